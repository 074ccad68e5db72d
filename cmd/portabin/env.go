package main

import (
	"fmt"

	"github.com/ZebulonRouseFrantzich/portabin/internal/shell"
	"github.com/spf13/cobra"
)

func (a *app) newEnvCmd() *cobra.Command {
	var (
		shellName string
		setup     bool
		opts      shell.SetupOptions
	)
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print shell code that puts the profile's bin directory on PATH",
		Long: `Print shell code that exports PORTABIN_BIN and prepends the active
profile's bin directory to PATH. Add it to your shell's rc file:

  bash/zsh:  eval "$(portabin env --shell bash)"
  fish:      portabin env --shell fish | source

With --setup, portabin adds that line to the rc file itself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var sh shell.ShellType
			if shellName != "" {
				var err error
				if sh, err = shell.ParseShell(shellName); err != nil {
					return &ExitError{Code: ExitUsage, Err: err}
				}
			} else {
				detection, err := shell.DetectShell(ctx)
				if err != nil {
					return err
				}
				if !detection.Shell.IsValid() {
					return &ExitError{Code: ExitUsage, Err: fmt.Errorf("could not detect your shell; pass --shell bash, zsh or fish")}
				}
				a.logger.Debug("detected shell", "shell", detection.Shell, "method", detection.Method)
				sh = detection.Shell
			}

			if setup {
				result, err := shell.NewManager(shell.Config{}).SetupIntegration(ctx, sh, opts)
				if err != nil {
					return err
				}
				switch {
				case result.Added:
					fmt.Fprintf(a.stdout, "added to %s:\n  %s\n", result.RCFile, result.ActivationCommand)
					if result.BackupPath != "" {
						fmt.Fprintf(a.stdout, "backup saved to %s\n", result.BackupPath)
					}
				case result.AlreadyPresent:
					fmt.Fprintf(a.stdout, "%s already activates portabin\n", result.RCFile)
				default:
					fmt.Fprintf(a.stdout, "would add to %s:\n  %s\n", result.RCFile, result.ActivationCommand)
				}
				return nil
			}

			_, paths, err := a.paths()
			if err != nil {
				return err
			}
			snippet, err := shell.PathSnippet(sh, paths.Bin)
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, snippet)
			return nil
		},
	}
	cmd.Flags().StringVarP(&shellName, "shell", "s", "", "shell to generate code for: bash, zsh or fish (default: detected)")
	cmd.Flags().BoolVar(&setup, "setup", false, "add the activation line to the shell's rc file")
	cmd.Flags().BoolVar(&opts.Backup, "backup", true, "back up the rc file before --setup changes it")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "with --setup, add the line even if one is present")
	cmd.Flags().BoolVarP(&opts.DryRun, "dry-run", "n", false, "with --setup, show what would change")
	return cmd
}
