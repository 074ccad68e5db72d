package transaction

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZebulonRouseFrantzich/portabin/internal/provision"
	"github.com/ZebulonRouseFrantzich/portabin/internal/store"
	digest "github.com/opencontainers/go-digest"
)

// OrphanKind says which side of the disk/store pair is missing.
type OrphanKind int

const (
	// OrphanUntracked is a version directory with no matching store row.
	OrphanUntracked OrphanKind = iota + 1
	// OrphanMissing is a store row whose artifact is not on disk.
	OrphanMissing
)

func (k OrphanKind) String() string {
	switch k {
	case OrphanUntracked:
		return "untracked"
	case OrphanMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// DiskEntry is one packages/<package_id>/<version> directory.
type DiskEntry struct {
	PackageID string
	Version   string
	Dir       string
	// Files are the regular files directly inside Dir.
	Files []string
}

// Orphan is a disagreement between disk and store.
type Orphan struct {
	Kind      OrphanKind
	PackageID string
	Version   string
	Path      string
}

// ReconciliationWarning reports an orphan that reconcile left alone.
type ReconciliationWarning struct {
	Orphan  Orphan
	Message string
}

func (w *ReconciliationWarning) Error() string {
	return fmt.Sprintf("%s %s@%s: %s", w.Orphan.Kind, w.Orphan.PackageID, w.Orphan.Version, w.Message)
}

// Diff compares version directories found on disk with store rows. An
// entry is untracked when no row names its package and version; a row is
// missing when no entry holds its artifact file. The result is sorted.
func Diff(disk []DiskEntry, records []*store.InstalledPackage) []Orphan {
	type key struct{ id, version string }
	entries := make(map[key]DiskEntry, len(disk))
	for _, d := range disk {
		entries[key{d.PackageID, d.Version}] = d
	}
	rows := make(map[key]*store.InstalledPackage, len(records))
	for _, r := range records {
		rows[key{r.PackageID, r.Version}] = r
	}

	var out []Orphan
	for k, d := range entries {
		if _, ok := rows[k]; !ok {
			out = append(out, Orphan{Kind: OrphanUntracked, PackageID: d.PackageID, Version: d.Version, Path: d.Dir})
		}
	}
	for k, r := range rows {
		d, ok := entries[k]
		if ok && contains(d.Files, filepath.Base(r.InstallPath)) {
			continue
		}
		out = append(out, Orphan{Kind: OrphanMissing, PackageID: r.PackageID, Version: r.Version, Path: r.InstallPath})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.PackageID != b.PackageID {
			return a.PackageID < b.PackageID
		}
		return a.Version < b.Version
	})
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ScanPackages lists the version directories under dir. Hidden entries,
// such as transaction trash, are skipped.
func ScanPackages(dir string) ([]DiskEntry, error) {
	pkgs, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read packages dir: %w", err)
	}

	var out []DiskEntry
	for _, p := range pkgs {
		if !p.IsDir() || strings.HasPrefix(p.Name(), ".") {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(dir, p.Name()))
		if err != nil {
			return nil, fmt.Errorf("read package dir %s: %w", p.Name(), err)
		}
		for _, v := range versions {
			if !v.IsDir() || strings.HasPrefix(v.Name(), ".") {
				continue
			}
			versionDir := filepath.Join(dir, p.Name(), v.Name())
			files, err := os.ReadDir(versionDir)
			if err != nil {
				return nil, fmt.Errorf("read version dir %s: %w", versionDir, err)
			}
			entry := DiskEntry{PackageID: p.Name(), Version: v.Name(), Dir: versionDir}
			for _, f := range files {
				if f.Type().IsRegular() {
					entry.Files = append(entry.Files, f.Name())
				}
			}
			out = append(out, entry)
		}
	}
	return out, nil
}

// ReconcileOptions tunes Reconcile.
type ReconcileOptions struct {
	// Prune deletes orphans that no manifest accounts for.
	Prune bool
}

// ReconcileReport lists what Reconcile changed and what it left alone.
type ReconcileReport struct {
	Reregistered  []string
	RetiredPurged []string
	RowsDropped   []string
	Pruned        []string
	StagingPurged []string
	Relinked      []string
	Unlinked      []string
	Warnings      []*ReconciliationWarning
}

// Changed reports whether reconcile modified anything.
func (r *ReconcileReport) Changed() bool {
	return len(r.Reregistered)+len(r.RetiredPurged)+len(r.RowsDropped)+len(r.Pruned)+
		len(r.StagingPurged)+len(r.Relinked)+len(r.Unlinked) > 0
}

// Reconcile brings disk, store and links back into agreement after a crash.
// Interrupted commits recorded by a committing manifest are rolled forward
// where their artifacts landed; stale staging areas are purged; everything
// else is reported as a warning unless opts.Prune is set.
func (e *Engine) Reconcile(ctx context.Context, opts ReconcileOptions) (*ReconcileReport, error) {
	lock, err := AcquireLock(ctx, e.lockPath)
	if err != nil {
		kind := KindStoreUnavailable
		if errors.Is(err, ErrLockHeld) {
			kind = KindLockContention
		}
		return nil, &TransactionError{Kind: kind, Stage: StatePlanned, Untouched: true, Err: err}
	}
	defer lock.Release()

	report := &ReconcileReport{}

	committing, err := e.sweepStaging(report, false)
	if err != nil {
		return nil, err
	}

	installs := make(map[string]*store.InstalledPackage)
	removes := make(map[string]bool)
	retired := make(map[string]bool)
	for _, m := range committing {
		for id, pkg := range m.Installs() {
			installs[id] = pkg
		}
		for id := range m.Removes() {
			removes[id] = true
		}
		for dir := range m.RetiredDirs() {
			retired[dir] = true
		}
	}

	if err := e.rollForward(ctx, installs, report); err != nil {
		return nil, err
	}

	records, err := e.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	disk, err := ScanPackages(e.packagesDir)
	if err != nil {
		return nil, err
	}

	for _, o := range Diff(disk, records) {
		switch o.Kind {
		case OrphanUntracked:
			switch {
			case retired[filepath.Clean(o.Path)]:
				if err := os.RemoveAll(o.Path); err != nil {
					return nil, fmt.Errorf("remove retired %s: %w", o.Path, err)
				}
				report.RetiredPurged = append(report.RetiredPurged, o.Path)
			case opts.Prune:
				if err := os.RemoveAll(o.Path); err != nil {
					return nil, fmt.Errorf("prune %s: %w", o.Path, err)
				}
				report.Pruned = append(report.Pruned, o.Path)
			default:
				report.Warnings = append(report.Warnings, &ReconciliationWarning{Orphan: o, Message: "artifact on disk has no store record"})
			}
			removeIfEmpty(filepath.Dir(o.Path))
		case OrphanMissing:
			switch {
			case removes[o.PackageID]:
				if err := e.store.Delete(ctx, o.PackageID); err != nil {
					return nil, err
				}
				report.RowsDropped = append(report.RowsDropped, o.PackageID)
			case opts.Prune:
				if err := e.store.Delete(ctx, o.PackageID); err != nil {
					return nil, err
				}
				report.Pruned = append(report.Pruned, o.PackageID)
			default:
				report.Warnings = append(report.Warnings, &ReconciliationWarning{Orphan: o, Message: "store record has no artifact on disk"})
			}
		}
	}

	for _, m := range committing {
		dir := filepath.Join(e.stagingDir, m.ID)
		if err := e.removeAll(dir); err != nil {
			e.logger.Warn("failed to remove committed staging area", "path", dir, "error", err)
			continue
		}
		report.StagingPurged = append(report.StagingPurged, m.ID)
	}
	e.purgeTrash()

	if err := e.repairLinks(ctx, report); err != nil {
		return nil, err
	}

	for _, w := range report.Warnings {
		e.logger.Warn("reconciliation warning", "kind", w.Orphan.Kind, "package", w.Orphan.PackageID, "version", w.Orphan.Version, "path", w.Orphan.Path)
	}
	if report.Changed() {
		e.logger.Info("reconciled", "reregistered", len(report.Reregistered), "dropped", len(report.RowsDropped), "purged", len(report.StagingPurged))
	}
	return report, nil
}

// rollForward registers artifacts an interrupted commit moved into place
// but never recorded. Only files whose digest still matches are trusted.
func (e *Engine) rollForward(ctx context.Context, installs map[string]*store.InstalledPackage, report *ReconcileReport) error {
	ids := make([]string, 0, len(installs))
	for id := range installs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		pkg := installs[id]
		if verifyDigest(pkg.InstallPath, pkg.Checksum) != nil {
			continue
		}
		cur, err := e.store.Get(ctx, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if cur != nil && cur.Version == pkg.Version && cur.Checksum == pkg.Checksum {
			continue
		}
		if err := e.store.Upsert(ctx, pkg); err != nil {
			return err
		}
		report.Reregistered = append(report.Reregistered, id)
	}
	return nil
}

// repairLinks drops links into the packages tree whose target is gone and
// links every installed package whose name has no link at all.
func (e *Engine) repairLinks(ctx context.Context, report *ReconcileReport) error {
	links, err := e.provisioner.Links()
	if err != nil {
		return err
	}
	for name, dest := range links {
		if strings.HasPrefix(filepath.Clean(dest), filepath.Clean(e.packagesDir)+string(filepath.Separator)) && !exists(dest) {
			if err := e.provisioner.Restore(name, ""); err != nil {
				return err
			}
			delete(links, name)
			report.Unlinked = append(report.Unlinked, name)
		}
	}

	records, err := e.store.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, pkg := range records {
		if _, ok := links[pkg.Name]; ok || !exists(pkg.InstallPath) {
			continue
		}
		if _, err := e.provisioner.Provision(provision.TargetFor(pkg)); err != nil {
			return err
		}
		links[pkg.Name] = pkg.InstallPath
		report.Relinked = append(report.Relinked, pkg.Name)
	}
	sort.Strings(report.Unlinked)
	return nil
}

// CleanStaging removes every staging area not needed for crash recovery
// and returns the purged transaction IDs.
func (e *Engine) CleanStaging(ctx context.Context) ([]string, error) {
	lock, err := AcquireLock(ctx, e.lockPath)
	if err != nil {
		kind := KindStoreUnavailable
		if errors.Is(err, ErrLockHeld) {
			kind = KindLockContention
		}
		return nil, &TransactionError{Kind: kind, Stage: StatePlanned, Untouched: true, Err: err}
	}
	defer lock.Release()

	report := &ReconcileReport{}
	if _, err := e.sweepStaging(report, true); err != nil {
		return nil, err
	}
	return report.StagingPurged, nil
}

// sweepStaging purges staging areas of transactions that never reached
// Committing and returns the manifests of those that did. Must run under
// the lock.
func (e *Engine) sweepStaging(report *ReconcileReport, logPurged bool) ([]*Manifest, error) {
	dirs, err := os.ReadDir(e.stagingDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}

	var committing []*Manifest
	for _, d := range dirs {
		path := filepath.Join(e.stagingDir, d.Name())
		if d.IsDir() {
			if m, err := LoadManifest(path); err == nil && m.State == StateCommitting {
				committing = append(committing, m)
				continue
			}
		}
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("purge staging %s: %w", d.Name(), err)
		}
		report.StagingPurged = append(report.StagingPurged, d.Name())
		if logPurged {
			e.logger.Debug("purged staging area", "txn", d.Name())
		}
	}
	sort.Slice(committing, func(i, j int) bool { return committing[i].Timestamp.Before(committing[j].Timestamp) })
	return committing, nil
}

func (e *Engine) purgeTrash() {
	entries, err := os.ReadDir(e.packagesDir)
	if err != nil {
		if !os.IsNotExist(err) {
			e.logger.Warn("failed to list packages for trash", "error", err)
		}
		return
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), ".trash-") {
			continue
		}
		dir := filepath.Join(e.packagesDir, entry.Name())
		if err := e.removeAll(dir); err != nil {
			e.logger.Warn("failed to purge trash", "path", dir, "error", err)
		}
	}
}

func verifyDigest(path string, want digest.Digest) error {
	if err := want.Validate(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	got, err := want.Algorithm().FromReader(f)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("digest mismatch: got %s", got)
	}
	return nil
}
