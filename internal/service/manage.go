package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ZebulonRouseFrantzich/portabin/internal/config"
	"github.com/ZebulonRouseFrantzich/portabin/internal/index"
	"github.com/ZebulonRouseFrantzich/portabin/internal/provision"
	"github.com/ZebulonRouseFrantzich/portabin/internal/resolver"
	"github.com/ZebulonRouseFrantzich/portabin/internal/store"
	"github.com/ZebulonRouseFrantzich/portabin/internal/transaction"
)

// ListInstalled returns every installed package ordered by package ID.
func (s *Service) ListInstalled(ctx context.Context) ([]*store.InstalledPackage, error) {
	pkgs, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transaction.ErrStoreUnavailable, err)
	}
	return pkgs, nil
}

// Search returns index records whose name or description contains query.
func (s *Service) Search(query string, limit int) []index.PackageRecord {
	return s.resolver.Search(query, limit)
}

// QueryResult describes one package name across the store and the index.
type QueryResult struct {
	Installed []*store.InstalledPackage
	// Available holds matching index records, highest version first.
	Available []index.PackageRecord
	// Selected is the record Resolve would pick, nil when it would fail.
	Selected *index.PackageRecord
	// ResolveErr is why Resolve would fail.
	ResolveErr error
}

// Query reports what is installed and what is available for a specifier.
func (s *Service) Query(ctx context.Context, raw string) (*QueryResult, error) {
	spec, err := resolver.ParseSpecifier(raw)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListByName(ctx, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transaction.ErrStoreUnavailable, err)
	}

	result := &QueryResult{Available: s.resolver.Candidates(spec)}
	for _, p := range rows {
		if (spec.Family == "" || p.Family == spec.Family) &&
			(spec.Provider == "" || p.Provider == spec.Provider) {
			result.Installed = append(result.Installed, p)
		}
	}
	if rec, err := s.resolver.Resolve(spec); err == nil {
		result.Selected = &rec
	} else {
		result.ResolveErr = err
	}
	return result, nil
}

// Sync refreshes the named repositories, or every enabled one when names is
// empty, and reloads the index. A failing repository does not stop the
// others; their errors are joined.
func (s *Service) Sync(ctx context.Context, names ...string) ([]*index.SyncResult, error) {
	repos, err := s.selectRepositories(names)
	if err != nil {
		return nil, err
	}

	syncer := index.NewSyncer(s.fetcher, s.paths.Repositories, s.platform.Arch, s.logger)
	var (
		results []*index.SyncResult
		errs    []error
	)
	for _, repo := range repos {
		res, err := syncer.Sync(ctx, repo)
		if err != nil {
			s.logger.Error("sync failed", "repository", repo.Name, "err", err)
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	if err := s.reloadIndex(); err != nil {
		errs = append(errs, err)
	}
	return results, errors.Join(errs...)
}

func (s *Service) selectRepositories(names []string) ([]config.Repository, error) {
	enabled := s.cfg.EnabledRepositories()
	if len(names) == 0 {
		return enabled, nil
	}
	byName := make(map[string]config.Repository, len(enabled))
	for _, r := range enabled {
		byName[r.Name] = r
	}
	repos := make([]config.Repository, 0, len(names))
	for _, n := range names {
		r, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("repository %q is not configured or not enabled", n)
		}
		repos = append(repos, r)
	}
	return repos, nil
}

// SetPinned pins or unpins the installed package matching spec. Pinned
// packages are left alone by UpdateAll.
func (s *Service) SetPinned(ctx context.Context, raw string, pinned bool) (*store.InstalledPackage, error) {
	spec, err := resolver.ParseSpecifier(raw)
	if err != nil {
		return nil, err
	}
	var pkg *store.InstalledPackage
	err = s.withLock(ctx, func() error {
		cur, err := s.findInstalled(ctx, spec)
		if err != nil {
			return err
		}
		if err := s.store.SetPinned(ctx, cur.PackageID, pinned); err != nil {
			return err
		}
		cur.Pinned = pinned
		pkg = cur
		return nil
	})
	return pkg, err
}

// Use points bin/<name> at the installed package matching spec, switching
// between providers or families that install the same name.
func (s *Service) Use(ctx context.Context, raw string) (*store.InstalledPackage, error) {
	spec, err := resolver.ParseSpecifier(raw)
	if err != nil {
		return nil, err
	}
	var pkg *store.InstalledPackage
	err = s.withLock(ctx, func() error {
		cur, err := s.findInstalled(ctx, spec)
		if err != nil {
			return err
		}
		if err := s.provisioner.Use(provision.TargetFor(cur)); err != nil {
			return err
		}
		pkg = cur
		return nil
	})
	return pkg, err
}

// HealthReport lists problems found without changing anything.
type HealthReport struct {
	Installed     int
	SchemaVersion int
	BrokenLinks   []string
	Orphans       []transaction.Orphan
	// Unprovisioned lists installed names with no bin link.
	Unprovisioned []string
}

// OK reports whether no problem was found.
func (h *HealthReport) OK() bool {
	return len(h.BrokenLinks) == 0 && len(h.Orphans) == 0 && len(h.Unprovisioned) == 0
}

// Health compares disk, store and links.
func (s *Service) Health(ctx context.Context) (*HealthReport, error) {
	version, err := s.store.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transaction.ErrStoreUnavailable, err)
	}
	installed, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transaction.ErrStoreUnavailable, err)
	}
	disk, err := transaction.ScanPackages(s.paths.Packages)
	if err != nil {
		return nil, err
	}
	broken, err := s.provisioner.BrokenLinks()
	if err != nil {
		return nil, err
	}
	links, err := s.provisioner.Links()
	if err != nil {
		return nil, err
	}

	report := &HealthReport{
		Installed:     len(installed),
		SchemaVersion: version,
		BrokenLinks:   broken,
		Orphans:       transaction.Diff(disk, installed),
	}
	seen := make(map[string]bool)
	for _, p := range installed {
		if _, ok := links[p.Name]; !ok && !seen[p.Name] {
			seen[p.Name] = true
			report.Unprovisioned = append(report.Unprovisioned, p.Name)
		}
	}
	sort.Strings(report.Unprovisioned)
	return report, nil
}

// ReconcileOrphans runs a recovery pass. With prune set, orphans are
// deleted instead of reported.
func (s *Service) ReconcileOrphans(ctx context.Context, prune bool) (*transaction.ReconcileReport, error) {
	return s.engine.Reconcile(ctx, transaction.ReconcileOptions{Prune: prune})
}

// CleanReport lists what CleanCache removed.
type CleanReport struct {
	Staging []string
	Links   []string
}

// CleanCache removes abandoned staging areas and dangling bin links.
// Staging areas of interrupted commits are kept for recovery.
func (s *Service) CleanCache(ctx context.Context) (*CleanReport, error) {
	staging, err := s.engine.CleanStaging(ctx)
	if err != nil {
		return nil, err
	}
	report := &CleanReport{Staging: staging}
	err = s.withLock(ctx, func() error {
		removed, err := s.provisioner.RemoveBrokenLinks()
		report.Links = removed
		return err
	})
	return report, err
}
