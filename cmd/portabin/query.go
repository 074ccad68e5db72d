package main

import (
	"encoding/json"
	"fmt"

	"github.com/ZebulonRouseFrantzich/portabin/internal/service"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func (a *app) newListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed packages",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *service.Service) error {
				pkgs, err := svc.ListInstalled(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(a.stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(pkgs)
				}
				if len(pkgs) == 0 {
					fmt.Fprintln(a.stdout, "no packages installed")
					return nil
				}
				tw := newTable(a.stdout)
				fmt.Fprintln(tw, "PACKAGE\tVERSION\tKIND\tSIZE\tINSTALLED\tPINNED")
				for _, p := range pkgs {
					pinned := ""
					if p.Pinned {
						pinned = "yes"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						p.PackageID, p.Version, p.Kind, humanize.Bytes(uint64(p.Size)), since(p.InstalledAt), pinned)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print installed records as JSON")
	return cmd
}

func (a *app) newSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search repository indices by name and description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *service.Service) error {
				recs := svc.Search(args[0], limit)
				if len(recs) == 0 {
					fmt.Fprintf(a.stdout, "no packages match %q\n", args[0])
					return nil
				}
				tw := newTable(a.stdout)
				fmt.Fprintln(tw, "PACKAGE\tVERSION\tSIZE\tREPOSITORY\tDESCRIPTION")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						r.PackageID(), r.Version, humanize.Bytes(uint64(r.Size)), r.Repository, r.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of results (0 for all)")
	return cmd
}

func (a *app) newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <package>",
		Short: "Show installed and available versions of a package",
		Long: `Show what is installed for a package, every matching index record, and
which record 'portabin install' would choose.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *service.Service) error {
				res, err := svc.Query(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				fmt.Fprintln(a.stdout, "Installed:")
				if len(res.Installed) == 0 {
					fmt.Fprintln(a.stdout, "  none")
				}
				for _, p := range res.Installed {
					fmt.Fprintf(a.stdout, "  %s@%s  %s  %s\n", p.PackageID, p.Version, p.InstallPath, p.Checksum)
				}

				fmt.Fprintln(a.stdout, "Available:")
				if len(res.Available) == 0 {
					fmt.Fprintln(a.stdout, "  none")
				}
				for _, r := range res.Available {
					fmt.Fprintf(a.stdout, "  %s  (%s, %s, %s)\n", r.String(), r.Repository, r.Kind, humanize.Bytes(uint64(r.Size)))
				}

				if res.Selected != nil {
					fmt.Fprintf(a.stdout, "Selected: %s from %s\n", res.Selected.String(), res.Selected.Repository)
				} else if res.ResolveErr != nil {
					fmt.Fprintf(a.stdout, "Selected: none (%v)\n", res.ResolveErr)
				}
				return nil
			})
		},
	}
}
