package main

import (
	"fmt"

	"github.com/ZebulonRouseFrantzich/portabin/internal/service"
	"github.com/spf13/cobra"
)

func (a *app) newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [repository...]",
		Short: "Refresh repository indices",
		Long: `Download the index of every enabled repository, or only those named.
Signed repositories are verified against their configured public key
before the local copy is replaced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *service.Service) error {
				results, err := svc.Sync(cmd.Context(), args...)
				for _, r := range results {
					signed := ""
					if r.Signed {
						signed = ", signature verified"
					}
					fmt.Fprintf(a.stdout, "%s: %d packages", r.Repository, r.Packages)
					if r.Skipped > 0 {
						fmt.Fprintf(a.stdout, " (%d entries skipped)", r.Skipped)
					}
					fmt.Fprintf(a.stdout, "%s\n", signed)
				}
				return err
			})
		},
	}
}
