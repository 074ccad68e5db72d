package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ZebulonRouseFrantzich/portabin/internal/config"
	"github.com/ZebulonRouseFrantzich/portabin/internal/logging"
	"github.com/ZebulonRouseFrantzich/portabin/internal/platform"
	"github.com/ZebulonRouseFrantzich/portabin/internal/service"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// app holds global flags and the writers commands print to.
type app struct {
	cfgFile  string
	profile  string
	logLevel string
	verbose  bool

	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	logger *log.Logger
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Err != nil {
		fmt.Fprintln(stderr, "Error:", config.FormatError(err, a.verbose))
	}
	if ctx.Err() != nil {
		return ExitInterrupted
	}
	return exitCode(err)
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "portabin",
		Short: "Install portable Linux binaries and AppImages",
		Long: `portabin installs static executables and AppImages from remote repository
indices into a per-profile directory and links them into a bin directory.

Every install, update and removal is a transaction: it either completes
or leaves installed software exactly as it was.

Examples:
  portabin sync                  Refresh repository indices
  portabin install jq            Install the best match for jq
  portabin install rg:bincache   Install rg from a specific provider
  portabin update                Update everything that is not pinned
  eval "$(portabin env --shell bash)"`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/portabin/config.lua or config.toml)")
	flags.StringVarP(&a.profile, "profile", "p", "", "profile to operate on (default from config, else \"default\")")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "show detailed errors and debug logs")

	root.AddCommand(
		a.newInstallCmd(),
		a.newRemoveCmd(),
		a.newUpdateCmd(),
		a.newListCmd(),
		a.newSearchCmd(),
		a.newQueryCmd(),
		a.newSyncCmd(),
		a.newReconcileCmd(),
		a.newPinCmd(true),
		a.newPinCmd(false),
		a.newUseCmd(),
		a.newHealthCmd(),
		a.newCleanCmd(),
		a.newEnvCmd(),
		a.newConfigCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(ctx, a.cfgFile, platform.NewDetector())
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	if a.verbose {
		level = "debug"
	}
	if level == "" {
		level = "warn"
	}
	a.logger = logging.New(a.stderr, level)
	return nil
}

// open opens the service for the selected profile. Callers must Close it.
func (a *app) open(ctx context.Context) (*service.Service, error) {
	svc, err := service.Open(ctx, service.Options{
		Config:  a.cfg,
		Profile: a.profile,
		Logger:  a.logger,
	})
	if err != nil {
		return nil, err
	}
	if r := svc.Recovery; r != nil && r.Changed() {
		a.logger.Info("recovered from an interrupted operation",
			"reregistered", len(r.Reregistered),
			"dropped", len(r.RowsDropped),
			"staging", len(r.StagingPurged),
			"relinked", len(r.Relinked))
	}
	return svc, nil
}

// paths returns the selected profile's layout without opening the store.
func (a *app) paths() (string, config.Paths, error) {
	name, profile, err := a.cfg.SelectProfile(a.profile)
	if err != nil {
		return "", config.Paths{}, err
	}
	return name, profile.Paths(), nil
}
