package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ZebulonRouseFrantzich/portabin/internal/index"
	"github.com/ZebulonRouseFrantzich/portabin/internal/resolver"
	"github.com/ZebulonRouseFrantzich/portabin/internal/store"
	"github.com/ZebulonRouseFrantzich/portabin/internal/transaction"
	"github.com/ZebulonRouseFrantzich/portabin/internal/version"
)

// InstallOptions qualifies PlanInstall.
type InstallOptions struct {
	// Portable gives AppImages their own home and config directories.
	Portable bool
}

// Resolve returns the single record a specifier selects.
func (s *Service) Resolve(spec string) (index.PackageRecord, error) {
	return s.resolver.ResolveString(spec)
}

// PlanInstall resolves every specifier and plans one transaction
// installing them. Specifiers already satisfied are listed in Skipped. A
// specifier without a version never downgrades an installed package and
// never replaces a pinned one; those are listed in Skipped too.
func (s *Service) PlanInstall(ctx context.Context, specs []string, opts InstallOptions) (*transaction.Transaction, error) {
	txn := transaction.New()
	for _, raw := range specs {
		spec, err := resolver.ParseSpecifier(raw)
		if err != nil {
			return nil, err
		}
		rec, err := s.resolver.Resolve(spec)
		if err != nil {
			return nil, err
		}
		if spec.Version == "" {
			cur, err := s.store.Get(ctx, rec.PackageID())
			switch {
			case errors.Is(err, store.ErrNotFound):
				// not installed
			case err != nil:
				return nil, fmt.Errorf("%w: %w", transaction.ErrStoreUnavailable, err)
			case cur.Pinned && cur.Version != rec.Version:
				s.logger.Info("pinned, not replacing", "package", cur.PackageID, "version", cur.Version, "available", rec.Version)
				txn.Skipped = append(txn.Skipped, cur.PackageID+"@"+cur.Version)
				continue
			case version.Compare(rec.Version, cur.Version) < 0:
				s.logger.Info("installed version is newer", "package", cur.PackageID, "version", cur.Version, "available", rec.Version)
				txn.Skipped = append(txn.Skipped, cur.PackageID+"@"+cur.Version)
				continue
			}
		}
		change, err := s.engine.PlanInstall(ctx, rec, transaction.PlanOptions{
			Origin:   transaction.OriginExplicit,
			Portable: opts.Portable,
		})
		if err != nil {
			return nil, fmt.Errorf("plan install %s: %w", raw, err)
		}
		if change == nil {
			txn.Skipped = append(txn.Skipped, rec.String())
			continue
		}
		txn.Add(*change)
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}
	return txn, nil
}

// PlanUpgrade plans upgrading installed packages named by specs. A
// specifier's version, when given, selects the target version, which may
// be lower than the installed one; otherwise the newest record from the
// installed package's family and provider is used and never downgrades.
func (s *Service) PlanUpgrade(ctx context.Context, specs []string) (*transaction.Transaction, error) {
	txn := transaction.New()
	for _, raw := range specs {
		spec, err := resolver.ParseSpecifier(raw)
		if err != nil {
			return nil, err
		}
		cur, err := s.findInstalled(ctx, resolver.Specifier{Name: spec.Name, Family: spec.Family, Provider: spec.Provider})
		if err != nil {
			return nil, err
		}
		rec, err := s.resolver.Resolve(resolver.Specifier{
			Name:     cur.Name,
			Version:  spec.Version,
			Family:   cur.Family,
			Provider: cur.Provider,
		})
		if err != nil {
			return nil, err
		}
		if spec.Version == "" && version.Compare(rec.Version, cur.Version) < 0 {
			txn.Skipped = append(txn.Skipped, cur.PackageID+"@"+cur.Version)
			continue
		}
		change, err := s.engine.PlanUpgrade(ctx, rec, transaction.PlanOptions{Origin: transaction.OriginExplicit})
		if err != nil {
			return nil, fmt.Errorf("plan upgrade %s: %w", raw, err)
		}
		if change == nil {
			txn.Skipped = append(txn.Skipped, cur.PackageID+"@"+cur.Version)
			continue
		}
		txn.Add(*change)
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}
	return txn, nil
}

// UpdateAll plans upgrading every installed package to the newest record
// of its family and provider. This is the sync path: pinned packages and
// packages no longer published are skipped.
func (s *Service) UpdateAll(ctx context.Context) (*transaction.Transaction, error) {
	installed, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transaction.ErrStoreUnavailable, err)
	}

	txn := transaction.New()
	for _, cur := range installed {
		rec, err := s.resolver.Resolve(resolver.Specifier{Name: cur.Name, Family: cur.Family, Provider: cur.Provider})
		if errors.Is(err, resolver.ErrNotFound) {
			s.logger.Warn("installed package no longer published", "package", cur.PackageID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if version.Compare(rec.Version, cur.Version) <= 0 {
			continue
		}
		change, err := s.engine.PlanUpgrade(ctx, rec, transaction.PlanOptions{Origin: transaction.OriginSync})
		if errors.Is(err, transaction.ErrPinned) {
			s.logger.Info("pinned, not updating", "package", cur.PackageID, "version", cur.Version, "available", rec.Version)
			txn.Skipped = append(txn.Skipped, cur.PackageID+"@"+cur.Version)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("plan update %s: %w", cur.PackageID, err)
		}
		if change != nil {
			txn.Add(*change)
		}
	}
	return txn, nil
}

// PlanRemove plans removing the installed packages named by specs. An
// explicit removal is allowed for pinned packages.
func (s *Service) PlanRemove(ctx context.Context, specs []string) (*transaction.Transaction, error) {
	txn := transaction.New()
	for _, raw := range specs {
		spec, err := resolver.ParseSpecifier(raw)
		if err != nil {
			return nil, err
		}
		cur, err := s.findInstalled(ctx, spec)
		if err != nil {
			return nil, err
		}
		change, err := s.engine.PlanRemove(ctx, cur.PackageID, transaction.OriginExplicit)
		if err != nil {
			return nil, fmt.Errorf("plan remove %s: %w", raw, err)
		}
		txn.Add(*change)
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}
	return txn, nil
}

// Execute runs a planned transaction.
func (s *Service) Execute(ctx context.Context, txn *transaction.Transaction, opts transaction.ExecuteOptions) (*transaction.Report, error) {
	report, err := s.engine.Execute(ctx, txn, opts)
	if err != nil {
		return report, err
	}
	for _, pkg := range report.Installed {
		s.logger.Info("installed", "package", pkg.PackageID, "version", pkg.Version)
	}
	for _, id := range report.Removed {
		s.logger.Info("removed", "package", id)
	}
	return report, nil
}

// findInstalled returns the one installed package matching spec.
func (s *Service) findInstalled(ctx context.Context, spec resolver.Specifier) (*store.InstalledPackage, error) {
	rows, err := s.store.ListByName(ctx, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transaction.ErrStoreUnavailable, err)
	}
	var matches []*store.InstalledPackage
	for _, p := range rows {
		if (spec.Version == "" || p.Version == spec.Version) &&
			(spec.Family == "" || p.Family == spec.Family) &&
			(spec.Provider == "" || p.Provider == spec.Provider) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, spec)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, 0, len(matches))
		for _, p := range matches {
			ids = append(ids, p.PackageID+"@"+p.Version)
		}
		return nil, fmt.Errorf("%w: %q matches installed packages %s", resolver.ErrAmbiguous, spec.String(), strings.Join(ids, ", "))
	}
}
