package main

import (
	"fmt"

	"github.com/ZebulonRouseFrantzich/portabin/internal/config"
	"github.com/spf13/cobra"
)

func (a *app) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as TOML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := config.MarshalTOML(a.cfg)
				if err != nil {
					return fmt.Errorf("render config: %w", err)
				}
				_, err = a.stdout.Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file in use",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path := a.cfgFile
				if path == "" {
					path = config.FindFile(config.DefaultDir())
				}
				if path == "" {
					fmt.Fprintf(a.stdout, "none (defaults in use; create %s/%s)\n", config.DefaultDir(), config.LuaFileName)
					return nil
				}
				fmt.Fprintln(a.stdout, config.ExpandPath(path))
				return nil
			},
		},
		&cobra.Command{
			Use:   "profiles",
			Short: "List profiles and their directories",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				active, _, err := a.paths()
				if err != nil {
					return err
				}
				tw := newTable(a.stdout)
				fmt.Fprintln(tw, "\tPROFILE\tROOT\tBIN\tDEFAULT PROVIDER")
				for _, name := range a.cfg.ProfileNames() {
					p := a.cfg.Profiles[name]
					paths := p.Paths()
					marker := ""
					if name == active {
						marker = "*"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, name, paths.Root, paths.Bin, p.DefaultProvider)
				}
				return tw.Flush()
			},
		},
	)
	return cmd
}
