package transaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZebulonRouseFrantzich/portabin/internal/download"
	"github.com/ZebulonRouseFrantzich/portabin/internal/index"
	"github.com/ZebulonRouseFrantzich/portabin/internal/logging"
	"github.com/ZebulonRouseFrantzich/portabin/internal/provision"
	"github.com/ZebulonRouseFrantzich/portabin/internal/store"
)

// Config wires an Engine to its collaborators.
type Config struct {
	Store       *store.Store
	Downloads   *download.Manager
	Provisioner *provision.Provisioner
	// PackagesDir holds packages/<package_id>/<version>/<file>.
	PackagesDir string
	// StagingDir holds one directory per running transaction.
	StagingDir string
	LockPath   string
	Logger     logging.Logger
	Now        func() time.Time
}

// Engine plans and executes transactions.
type Engine struct {
	store       *store.Store
	downloads   *download.Manager
	provisioner *provision.Provisioner
	packagesDir string
	stagingDir  string
	lockPath    string
	logger      logging.Logger
	now         func() time.Time

	hooks hooks
}

// hooks let tests fail a commit at a chosen step.
type hooks struct {
	afterMove  func() error
	afterStore func() error
	afterLinks func() error
	removeAll  func(path string) error
}

func (e *Engine) removeAll(path string) error {
	if e.hooks.removeAll != nil {
		return e.hooks.removeAll(path)
	}
	return os.RemoveAll(path)
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("engine requires a store")
	case cfg.Downloads == nil:
		return nil, errors.New("engine requires a download manager")
	case cfg.Provisioner == nil:
		return nil, errors.New("engine requires a provisioner")
	case cfg.PackagesDir == "" || cfg.StagingDir == "" || cfg.LockPath == "":
		return nil, errors.New("engine requires packages, staging and lock paths")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:       cfg.Store,
		downloads:   cfg.Downloads,
		provisioner: cfg.Provisioner,
		packagesDir: cfg.PackagesDir,
		stagingDir:  cfg.StagingDir,
		lockPath:    cfg.LockPath,
		logger:      logging.OrNoop(cfg.Logger),
		now:         cfg.Now,
	}, nil
}

// PlanOptions qualifies a planned change.
type PlanOptions struct {
	Origin   Origin
	Portable bool
}

// PlanInstall plans rec. It returns nil when the same version with the
// same checksum is already installed, and an Upgrade when another version
// of the package is installed.
func (e *Engine) PlanInstall(ctx context.Context, rec index.PackageRecord, opts PlanOptions) (*Change, error) {
	cur, err := e.store.Get(ctx, rec.PackageID())
	if errors.Is(err, store.ErrNotFound) {
		return &Change{Kind: ChangeInstall, Record: &rec, Origin: opts.Origin, Portable: opts.Portable}, nil
	}
	if err != nil {
		return nil, err
	}
	return e.planReplace(cur, rec, opts)
}

// PlanUpgrade plans replacing the installed version of rec's package. The
// package must be installed. It returns nil when nothing would change.
func (e *Engine) PlanUpgrade(ctx context.Context, rec index.PackageRecord, opts PlanOptions) (*Change, error) {
	cur, err := e.store.Get(ctx, rec.PackageID())
	if err != nil {
		return nil, err
	}
	return e.planReplace(cur, rec, opts)
}

func (e *Engine) planReplace(cur *store.InstalledPackage, rec index.PackageRecord, opts PlanOptions) (*Change, error) {
	if cur.Version == rec.Version && cur.Checksum == rec.Checksum {
		return nil, nil
	}
	if cur.Pinned && opts.Origin == OriginSync {
		return nil, fmt.Errorf("%w: %s@%s", ErrPinned, cur.PackageID, cur.Version)
	}
	return &Change{
		Kind:      ChangeUpgrade,
		Record:    &rec,
		Installed: cur,
		Origin:    opts.Origin,
		Portable:  opts.Portable || cur.Portable,
	}, nil
}

// PlanRemove plans removing an installed package.
func (e *Engine) PlanRemove(ctx context.Context, packageID string, origin Origin) (*Change, error) {
	cur, err := e.store.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if cur.Pinned && origin == OriginSync {
		return nil, fmt.Errorf("%w: %s@%s", ErrPinned, cur.PackageID, cur.Version)
	}
	return &Change{Kind: ChangeRemove, Installed: cur, Origin: origin}, nil
}

// ExecuteOptions tunes Execute.
type ExecuteOptions struct {
	Progress download.ProgressFunc
}

// Report summarizes an executed transaction.
type Report struct {
	ID        string
	State     State
	Installed []*store.InstalledPackage
	Removed   []string
	Downloads []download.Result
}

// Execute runs txn under the profile's writer lock. On error the returned
// *TransactionError says whether existing installations were left as
// they were.
func (e *Engine) Execute(ctx context.Context, txn *Transaction, opts ExecuteOptions) (*Report, error) {
	report := &Report{ID: txn.ID}

	if txn.State != StatePlanned {
		return nil, e.failure(txn, KindStagingFailed, true, fmt.Errorf("transaction is %s, not planned", txn.State))
	}
	if err := txn.Validate(); err != nil {
		return nil, e.failure(txn, KindStagingFailed, true, err)
	}

	lock, err := AcquireLock(ctx, e.lockPath)
	if err != nil {
		kind := KindStoreUnavailable
		if errors.Is(err, ErrLockHeld) {
			kind = KindLockContention
		}
		return nil, e.failure(txn, kind, true, err)
	}
	defer lock.Release()

	if txn.Empty() {
		txn.State = StateCommitted
		report.State = txn.State
		return report, nil
	}

	stageDir := filepath.Join(e.stagingDir, txn.ID)
	staged, results, err := e.stage(ctx, txn, stageDir, opts.Progress)
	report.Downloads = results
	if err != nil {
		return report, e.abort(txn, stageDir, KindStagingFailed, err)
	}

	if err := e.verify(ctx, txn, staged); err != nil {
		kind := KindStagingFailed
		if !errors.Is(err, ErrStalePlan) && !errors.Is(err, ErrPinned) && !errors.Is(err, provision.ErrKindMismatch) {
			kind = KindStoreUnavailable
		}
		return report, e.abort(txn, stageDir, kind, err)
	}

	// Cancellation is honoured up to here; a commit always runs to
	// completion or compensation.
	if err := ctx.Err(); err != nil {
		return report, e.abort(txn, stageDir, KindStagingFailed, err)
	}

	installed, removed, err := e.commit(context.WithoutCancel(ctx), txn, stageDir, staged)
	report.State = txn.State
	if err != nil {
		return report, err
	}
	report.Installed = installed
	report.Removed = removed
	return report, nil
}

// stage downloads every new artifact into stageDir.
func (e *Engine) stage(ctx context.Context, txn *Transaction, stageDir string, progress download.ProgressFunc) (map[string]string, []download.Result, error) {
	txn.State = StateStaging
	manifest := &Manifest{Version: 1, ID: txn.ID, State: StateStaging, Timestamp: e.now().UTC()}
	if err := manifest.Save(stageDir); err != nil {
		return nil, nil, err
	}

	var reqs []download.Request
	for _, c := range txn.Changes {
		if c.Record == nil {
			continue
		}
		reqs = append(reqs, download.Request{
			ID:     c.Record.PackageID(),
			URL:    c.Record.DownloadURL,
			Size:   c.Record.Size,
			Digest: c.Record.Checksum,
			Dest:   filepath.Join(stageDir, "artifacts", c.Record.PackageID(), c.Record.FileName()),
		})
	}
	if len(reqs) == 0 {
		return map[string]string{}, nil, nil
	}

	e.logger.Debug("staging artifacts", "txn", txn.ID, "count", len(reqs))
	results, err := e.downloads.FetchAll(ctx, reqs, progress)
	if err != nil {
		return nil, results, err
	}

	staged := make(map[string]string, len(results))
	for _, r := range results {
		staged[r.ID] = r.Path
	}
	return staged, results, nil
}

// verify checks artifact kinds and re-reads every affected store row.
func (e *Engine) verify(ctx context.Context, txn *Transaction, staged map[string]string) error {
	for i := range txn.Changes {
		c := &txn.Changes[i]
		id := c.PackageID()

		if c.Record != nil {
			if err := provision.CheckKind(staged[id], c.Record.Kind); err != nil {
				return err
			}
		}

		cur, err := e.store.Get(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if c.Kind != ChangeInstall {
				return fmt.Errorf("%w: %s is no longer installed", ErrStalePlan, id)
			}
			continue
		case err != nil:
			return err
		}

		if c.Kind == ChangeInstall {
			return fmt.Errorf("%w: %s was installed meanwhile", ErrStalePlan, id)
		}
		if cur.Version != c.Installed.Version || cur.Checksum != c.Installed.Checksum {
			return fmt.Errorf("%w: %s is now at %s", ErrStalePlan, id, cur.Version)
		}
		if cur.Pinned && c.Origin == OriginSync {
			return fmt.Errorf("%w: %s", ErrPinned, id)
		}
		c.Installed = cur
	}
	txn.State = StateVerified
	return nil
}

// commit applies a verified transaction: files, then store, then links,
// then cleanup. Any failure before cleanup is undone in reverse order.
func (e *Engine) commit(ctx context.Context, txn *Transaction, stageDir string, staged map[string]string) ([]*store.InstalledPackage, []string, error) {
	txn.State = StateCommitting
	now := e.now()
	trashDir := filepath.Join(e.packagesDir, ".trash-"+txn.ID)

	manifest := &Manifest{Version: 1, ID: txn.ID, State: StateCommitting, Timestamp: now.UTC()}
	var installed []*store.InstalledPackage
	var removed []string
	var retired []string
	var muts, inverse []store.Mutation

	for _, c := range txn.Changes {
		id := c.PackageID()
		entry := ManifestEntry{Kind: c.Kind, PackageID: id}

		if c.Record != nil {
			path := filepath.Join(e.packagesDir, id, c.Record.Version, c.Record.FileName())
			pkg := store.FromRecord(*c.Record, path, now)
			pkg.Portable = c.Portable
			if c.Installed != nil {
				pkg.Pinned = c.Installed.Pinned
			}
			entry.Package = pkg
			installed = append(installed, pkg)
			muts = append(muts, store.Upsert(pkg))
		} else {
			removed = append(removed, id)
			muts = append(muts, store.Delete(id))
		}

		if c.Installed != nil {
			inverse = append(inverse, store.Upsert(c.Installed))
			oldDir := filepath.Dir(c.Installed.InstallPath)
			if c.Kind == ChangeUpgrade && c.Installed.Version != c.Record.Version {
				entry.Retired = append(entry.Retired, oldDir)
				retired = append(retired, oldDir)
			}
		} else {
			inverse = append(inverse, store.Delete(id))
		}
		manifest.Entries = append(manifest.Entries, entry)
	}

	if err := manifest.Save(stageDir); err != nil {
		return nil, nil, e.abort(txn, stageDir, KindCommitFailed, err)
	}

	var undo undoLog
	fail := func(err error) ([]*store.InstalledPackage, []string, error) {
		return nil, nil, e.compensate(txn, stageDir, trashDir, &undo, err)
	}

	// 1. Filesystem.
	for _, c := range txn.Changes {
		id := c.PackageID()
		if c.Record != nil {
			versionDir := filepath.Join(e.packagesDir, id, c.Record.Version)
			if err := e.setAside(versionDir, filepath.Join(trashDir, id+"@"+c.Record.Version), &undo); err != nil {
				return fail(err)
			}
			if err := os.MkdirAll(versionDir, 0o755); err != nil {
				return fail(fmt.Errorf("create install dir: %w", err))
			}
			undo.push("remove "+versionDir, func() error {
				err := os.RemoveAll(versionDir)
				removeIfEmpty(filepath.Dir(versionDir))
				return err
			})
			if err := moveFile(staged[id], filepath.Join(versionDir, c.Record.FileName())); err != nil {
				return fail(err)
			}
			continue
		}
		if err := e.setAside(filepath.Join(e.packagesDir, id), filepath.Join(trashDir, id), &undo); err != nil {
			return fail(err)
		}
	}
	if e.hooks.afterMove != nil {
		if err := e.hooks.afterMove(); err != nil {
			return fail(err)
		}
	}

	// 2. Store.
	if err := e.store.Apply(ctx, muts); err != nil {
		return fail(fmt.Errorf("apply store changes: %w", err))
	}
	undo.push("restore store rows", func() error {
		return e.store.Apply(ctx, inverse)
	})
	if e.hooks.afterStore != nil {
		if err := e.hooks.afterStore(); err != nil {
			return fail(err)
		}
	}

	// 3. Links.
	if err := e.relink(ctx, txn, &undo); err != nil {
		return fail(err)
	}
	if e.hooks.afterLinks != nil {
		if err := e.hooks.afterLinks(); err != nil {
			return fail(err)
		}
	}

	// 4. Cleanup. The commit has landed; failures here only leave garbage
	// for reconcile.
	txn.State = StateCommitted
	for _, dir := range retired {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("failed to remove retired version", "path", dir, "error", err)
		}
	}
	e.cleanup(stageDir, trashDir)

	e.logger.Info("transaction committed", "txn", shortID(txn.ID), "installed", len(installed), "removed", len(removed))
	return installed, removed, nil
}

// setAside moves an existing path into the trash so it can be restored.
func (e *Engine) setAside(path, aside string, undo *undoLog) error {
	if !exists(path) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(aside), 0o755); err != nil {
		return fmt.Errorf("create trash dir: %w", err)
	}
	if err := os.Rename(path, aside); err != nil {
		return fmt.Errorf("move %s to trash: %w", filepath.Base(path), err)
	}
	undo.push("restore "+path, func() error {
		os.RemoveAll(path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return os.Rename(aside, path)
	})
	return nil
}

// relink points bin/ at the new artifacts and drops links of removed
// packages, handing a freed name to another installed package that
// shares it.
func (e *Engine) relink(ctx context.Context, txn *Transaction, undo *undoLog) error {
	previous := make(map[string]string)
	capture := func(name string) error {
		if _, ok := previous[name]; ok {
			return nil
		}
		cur, err := e.provisioner.Current(name)
		if err != nil {
			return err
		}
		previous[name] = cur
		return nil
	}
	undo.push("restore links", func() error {
		var errs []error
		for name, prev := range previous {
			errs = append(errs, e.provisioner.Restore(name, prev))
		}
		return errors.Join(errs...)
	})

	for _, c := range txn.Changes {
		if c.Kind != ChangeRemove {
			continue
		}
		if err := capture(c.Installed.Name); err != nil {
			return err
		}
		_, err := e.provisioner.Deprovision(provision.TargetFor(c.Installed))
		if errors.Is(err, provision.ErrForeignLink) {
			continue
		}
		if err != nil {
			return err
		}
		if err := e.handOver(ctx, c.Installed.Name); err != nil {
			return err
		}
	}

	for _, c := range txn.Changes {
		if c.Record == nil {
			continue
		}
		if err := capture(c.Record.Name); err != nil {
			return err
		}
		pkg, err := e.store.Get(ctx, c.PackageID())
		if err != nil {
			return err
		}
		if _, err := e.provisioner.Provision(provision.TargetFor(pkg)); err != nil {
			return err
		}
	}
	return nil
}

// handOver links name to the first remaining installed package that
// provides it, if any.
func (e *Engine) handOver(ctx context.Context, name string) error {
	rest, err := e.store.ListByName(ctx, name)
	if err != nil {
		return err
	}
	for _, pkg := range rest {
		if !exists(pkg.InstallPath) {
			continue
		}
		_, err := e.provisioner.Provision(provision.TargetFor(pkg))
		return err
	}
	return nil
}

func (e *Engine) abort(txn *Transaction, stageDir string, kind ErrorKind, cause error) error {
	stage := txn.State
	txn.State = StateAborted
	if err := os.RemoveAll(stageDir); err != nil {
		e.logger.Warn("failed to remove staging area", "path", stageDir, "error", err)
	}
	e.logger.Debug("transaction aborted", "txn", shortID(txn.ID), "stage", stage, "error", cause)
	return &TransactionError{Kind: kind, ID: txn.ID, Stage: stage, Untouched: true, Err: cause}
}

// compensate undoes a partial commit. When every undo step succeeds the
// staging area is removed; otherwise the committing manifest stays for
// reconcile.
func (e *Engine) compensate(txn *Transaction, stageDir, trashDir string, undo *undoLog, cause error) error {
	txn.State = StateAborted
	undoErr := undo.run()
	untouched := undoErr == nil
	if untouched {
		e.cleanup(stageDir, trashDir)
	} else {
		e.logger.Error("failed to roll back commit, run reconcile", "txn", shortID(txn.ID), "error", undoErr)
	}
	return &TransactionError{
		Kind:      KindCommitFailed,
		ID:        txn.ID,
		Stage:     StateCommitting,
		Untouched: untouched,
		Err:       errors.Join(cause, undoErr),
	}
}

func (e *Engine) cleanup(stageDir, trashDir string) {
	for _, dir := range []string{trashDir, stageDir} {
		if err := e.removeAll(dir); err != nil {
			e.logger.Warn("failed to remove transaction leftovers", "path", dir, "error", err)
		}
	}
}

func (e *Engine) failure(txn *Transaction, kind ErrorKind, untouched bool, err error) error {
	return &TransactionError{Kind: kind, ID: txn.ID, Stage: txn.State, Untouched: untouched, Err: err}
}

type undoStep struct {
	name string
	fn   func() error
}

// undoLog collects compensation steps, run last-in first-out.
type undoLog struct {
	steps []undoStep
}

func (u *undoLog) push(name string, fn func() error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

func (u *undoLog) run() error {
	var errs []error
	for i := len(u.steps) - 1; i >= 0; i-- {
		if err := u.steps[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("undo %s: %w", u.steps[i].name, err))
		}
	}
	u.steps = nil
	return errors.Join(errs...)
}
