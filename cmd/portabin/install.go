package main

import (
	"context"
	"fmt"

	"github.com/ZebulonRouseFrantzich/portabin/internal/service"
	"github.com/ZebulonRouseFrantzich/portabin/internal/transaction"
	"github.com/spf13/cobra"
)

func (a *app) newInstallCmd() *cobra.Command {
	var (
		opts   service.InstallOptions
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "install <package>...",
		Short: "Install packages",
		Long: `Install one or more packages in a single transaction.

A package is named as name[@version][#family][:provider]. Without
qualifiers the highest version wins, preferring the profile's default
provider. Installing another version of an installed package upgrades it.`,
		Example: `  portabin install jq
  portabin install jq@1.7.1 rg#ripgrep:bincache
  portabin install --portable obsidian`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *service.Service) error {
				txn, err := svc.PlanInstall(cmd.Context(), args, opts)
				if err != nil {
					return err
				}
				return a.apply(cmd.Context(), svc, txn, dryRun)
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Portable, "portable", false, "give AppImages their own home and config directories")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "show the plan without executing it")
	return cmd
}

func (a *app) newRemoveCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:     "remove <package>...",
		Aliases: []string{"rm", "uninstall"},
		Short:   "Remove installed packages",
		Long: `Remove installed packages in a single transaction. Pinned packages can be
removed explicitly.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *service.Service) error {
				txn, err := svc.PlanRemove(cmd.Context(), args)
				if err != nil {
					return err
				}
				return a.apply(cmd.Context(), svc, txn, dryRun)
			})
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "show the plan without executing it")
	return cmd
}

func (a *app) newUpdateCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:     "update [package...]",
		Aliases: []string{"upgrade"},
		Short:   "Update installed packages",
		Long: `Without arguments, update every installed package to the newest version
of its family and provider, skipping pinned packages. With arguments,
update only those packages; pins are ignored and package@version selects
an exact version, which may be older than the installed one.

Run 'portabin sync' first to see new versions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *service.Service) error {
				var (
					txn *transaction.Transaction
					err error
				)
				if len(args) == 0 {
					txn, err = svc.UpdateAll(cmd.Context())
				} else {
					txn, err = svc.PlanUpgrade(cmd.Context(), args)
				}
				if err != nil {
					return err
				}
				return a.apply(cmd.Context(), svc, txn, dryRun)
			})
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "show the plan without executing it")
	return cmd
}

// withService opens the service for fn and closes it afterwards.
func (a *app) withService(ctx context.Context, fn func(*service.Service) error) error {
	svc, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

// apply prints and executes txn.
func (a *app) apply(ctx context.Context, svc *service.Service, txn *transaction.Transaction, dryRun bool) error {
	printPlan(a.stdout, txn)
	if txn.Empty() {
		fmt.Fprintln(a.stdout, "nothing to do")
		return nil
	}
	if dryRun {
		return nil
	}

	progress := newProgressPrinter(a.stdout)
	report, err := svc.Execute(ctx, txn, transaction.ExecuteOptions{Progress: progress.progressFunc()})
	if err != nil {
		return err
	}
	printReport(a.stdout, report)
	return nil
}
