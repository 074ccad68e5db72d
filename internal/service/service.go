// Package service provides high-level business logic for portabin
// operations. It wires configuration, the repository index, the resolver,
// the download manager, the store and the transaction engine together for
// one active profile.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ZebulonRouseFrantzich/portabin/internal/config"
	"github.com/ZebulonRouseFrantzich/portabin/internal/download"
	"github.com/ZebulonRouseFrantzich/portabin/internal/index"
	"github.com/ZebulonRouseFrantzich/portabin/internal/logging"
	"github.com/ZebulonRouseFrantzich/portabin/internal/platform"
	"github.com/ZebulonRouseFrantzich/portabin/internal/provision"
	"github.com/ZebulonRouseFrantzich/portabin/internal/resolver"
	"github.com/ZebulonRouseFrantzich/portabin/internal/store"
	"github.com/ZebulonRouseFrantzich/portabin/internal/transaction"
)

const (
	// DirPermissions sets the permission mode for profile directories.
	DirPermissions = 0755
	// StagingPermissions sets the permission mode for the staging area.
	StagingPermissions = 0700
)

// Options configures Open.
type Options struct {
	Config *config.Config
	// Profile overrides Config.Profile.
	Profile  string
	Detector platform.Detector
	// Fetcher defaults to download.NewHTTPFetcher.
	Fetcher download.Fetcher
	// Retry defaults to download.DefaultRetryPolicy.
	Retry  download.RetryPolicy
	Logger logging.Logger
	Clock  Clock
	// SkipReconcile disables the recovery pass Open runs by default.
	SkipReconcile bool
}

// Service exposes portabin's operations for one profile.
type Service struct {
	cfg         *config.Config
	profileName string
	profile     config.Profile
	paths       config.Paths
	platform    *platform.Info

	store       *store.Store
	fetcher     download.Fetcher
	downloads   *download.Manager
	provisioner *provision.Provisioner
	engine      *transaction.Engine
	index       *index.Index
	resolver    *resolver.Resolver

	logger logging.Logger
	clock  Clock

	// Recovery holds the report of the reconcile pass run by Open.
	Recovery *transaction.ReconcileReport
}

// Open selects the profile, creates its directories, migrates the store,
// loads the synced index and runs a reconcile pass to recover from any
// interrupted transaction. The pass is skipped, not failed, when another
// process holds the writer lock.
func Open(ctx context.Context, opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, errors.New("service requires a config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	name, profile, err := opts.Config.SelectProfile(opts.Profile)
	if err != nil {
		return nil, err
	}

	logger := logging.OrNoop(opts.Logger)
	clock := opts.Clock
	if clock == nil {
		clock = RealClock{}
	}
	detector := opts.Detector
	if detector == nil {
		detector = platform.NewDetector()
	}
	info, err := detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect platform: %w", err)
	}

	paths := profile.Paths()
	for _, dir := range []string{paths.Root, paths.Packages, paths.Bin, paths.Cache, paths.Repositories} {
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(paths.Staging, StagingPermissions); err != nil {
		return nil, fmt.Errorf("create %s: %w", paths.Staging, err)
	}

	st, err := store.New(ctx, paths.DB)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transaction.ErrStoreUnavailable, err)
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = download.NewHTTPFetcher()
	}
	concurrency := opts.Config.Concurrency
	if concurrency == 0 {
		concurrency = info.CPUs
	}
	downloads := download.NewManager(fetcher, download.Options{
		Concurrency: concurrency,
		Retry:       opts.Retry,
		Logger:      logger,
	})
	prov := provision.New(paths.Bin, paths.Packages, logger)
	engine, err := transaction.NewEngine(transaction.Config{
		Store:       st,
		Downloads:   downloads,
		Provisioner: prov,
		PackagesDir: paths.Packages,
		StagingDir:  paths.Staging,
		LockPath:    paths.Lock,
		Logger:      logger,
		Now:         clock.Now,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	s := &Service{
		cfg:         opts.Config,
		profileName: name,
		profile:     profile,
		paths:       paths,
		platform:    info,
		store:       st,
		fetcher:     fetcher,
		downloads:   downloads,
		provisioner: prov,
		engine:      engine,
		logger:      logger,
		clock:       clock,
	}
	if err := s.reloadIndex(); err != nil {
		st.Close()
		return nil, err
	}

	if !opts.SkipReconcile {
		report, err := engine.Reconcile(ctx, transaction.ReconcileOptions{})
		switch {
		case errors.Is(err, transaction.ErrLockHeld):
			logger.Debug("skipping recovery, another portabin is running")
		case err != nil:
			st.Close()
			return nil, fmt.Errorf("recover interrupted transactions: %w", err)
		default:
			s.Recovery = report
			for _, w := range report.Warnings {
				logger.Warn(w.Message, "package", w.Orphan.PackageID, "path", w.Orphan.Path)
			}
		}
	}
	return s, nil
}

// Close releases the store.
func (s *Service) Close() error {
	return s.store.Close()
}

// ProfileName returns the active profile's name.
func (s *Service) ProfileName() string {
	return s.profileName
}

// Paths returns the active profile's directory layout.
func (s *Service) Paths() config.Paths {
	return s.paths
}

// Platform returns the detected host platform.
func (s *Service) Platform() *platform.Info {
	return s.platform
}

// Index returns the loaded repository index.
func (s *Service) Index() *index.Index {
	return s.index
}

func (s *Service) reloadIndex() error {
	idx, err := index.LoadDir(s.paths.Repositories, s.cfg.EnabledRepositories(), s.logger)
	if err != nil {
		return fmt.Errorf("load repository index: %w", err)
	}
	s.index = idx
	s.resolver = resolver.New(idx, s.profile.DefaultProvider)
	return nil
}

// withLock runs fn while holding the profile's writer lock.
func (s *Service) withLock(ctx context.Context, fn func() error) error {
	lock, err := transaction.AcquireLock(ctx, s.paths.Lock)
	if err != nil {
		if errors.Is(err, transaction.ErrLockHeld) {
			return fmt.Errorf("%w: %w", transaction.ErrLockContention, err)
		}
		return err
	}
	defer lock.Release()
	return fn()
}
