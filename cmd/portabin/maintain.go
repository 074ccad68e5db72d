package main

import (
	"fmt"
	"strings"

	"github.com/ZebulonRouseFrantzich/portabin/internal/service"
	"github.com/spf13/cobra"
)

func (a *app) newReconcileCmd() *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Bring packages, records and links back into agreement",
		Long: `Finish or discard interrupted transactions, purge stale staging areas and
repair bin links. Package directories without a record and records
without a directory are reported; --prune deletes them instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *service.Service) error {
				report, err := svc.ReconcileOrphans(cmd.Context(), prune)
				if err != nil {
					return err
				}
				printList := func(label string, items []string) {
					if len(items) > 0 {
						fmt.Fprintf(a.stdout, "%s: %s\n", label, strings.Join(items, ", "))
					}
				}
				printList("re-registered", report.Reregistered)
				printList("removed retired versions", report.RetiredPurged)
				printList("dropped records", report.RowsDropped)
				printList("pruned", report.Pruned)
				printList("purged staging", report.StagingPurged)
				printList("relinked", report.Relinked)
				printList("unlinked", report.Unlinked)
				for _, w := range report.Warnings {
					fmt.Fprintf(a.stdout, "warning: %s\n", w.Error())
				}
				if !report.Changed() && len(report.Warnings) == 0 {
					fmt.Fprintln(a.stdout, "everything is consistent")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "delete orphaned directories and records instead of reporting them")
	return cmd
}

func (a *app) newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "health",
		Aliases: []string{"doctor"},
		Short:   "Check the profile for inconsistencies without changing anything",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *service.Service) error {
				h, err := svc.Health(cmd.Context())
				if err != nil {
					return err
				}
				paths := svc.Paths()
				fmt.Fprintf(a.stdout, "profile:   %s (%s)\n", svc.ProfileName(), paths.Root)
				fmt.Fprintf(a.stdout, "platform:  %s/%s, %d CPUs\n", svc.Platform().OS, svc.Platform().Arch, svc.Platform().CPUs)
				fmt.Fprintf(a.stdout, "schema:    v%d\n", h.SchemaVersion)
				fmt.Fprintf(a.stdout, "installed: %d packages, %d indexed\n", h.Installed, svc.Index().Len())

				for _, name := range h.BrokenLinks {
					fmt.Fprintf(a.stdout, "broken link: %s\n", name)
				}
				for _, o := range h.Orphans {
					fmt.Fprintf(a.stdout, "orphan (%s): %s@%s at %s\n", o.Kind, o.PackageID, o.Version, o.Path)
				}
				for _, name := range h.Unprovisioned {
					fmt.Fprintf(a.stdout, "not linked: %s\n", name)
				}
				if !h.OK() {
					fmt.Fprintln(a.stdout, "run 'portabin reconcile' or 'portabin clean' to repair")
					return &ExitError{Code: ExitUnhealthy}
				}
				fmt.Fprintln(a.stdout, "ok")
				return nil
			})
		},
	}
}

func (a *app) newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove abandoned downloads and dangling links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *service.Service) error {
				report, err := svc.CleanCache(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "removed %d staging areas and %d dangling links\n", len(report.Staging), len(report.Links))
				return nil
			})
		},
	}
}

// newPinCmd builds "pin" when pinned is true and "unpin" otherwise.
func (a *app) newPinCmd(pinned bool) *cobra.Command {
	use, short := "pin", "Keep packages at their installed version during update"
	if !pinned {
		use, short = "unpin", "Let update change packages again"
	}
	return &cobra.Command{
		Use:   use + " <package>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *service.Service) error {
				for _, spec := range args {
					pkg, err := svc.SetPinned(cmd.Context(), spec, pinned)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "%sned %s@%s\n", use, pkg.PackageID, pkg.Version)
				}
				return nil
			})
		},
	}
}

func (a *app) newUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <package>",
		Short: "Choose which installed package provides a command",
		Long: `When several installed packages provide the same command name, point the
bin link at the one named.`,
		Example: "  portabin use jq:soar",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *service.Service) error {
				pkg, err := svc.Use(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "%s -> %s@%s\n", pkg.Name, pkg.PackageID, pkg.Version)
				return nil
			})
		},
	}
}
