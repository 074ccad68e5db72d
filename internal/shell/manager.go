package shell

import (
	"context"
	"fmt"
)

// Manager adds portabin's activation line to shell rc files.
type Manager struct {
	home string
}

// NewManager creates a new shell manager
func NewManager(config Config) *Manager {
	return &Manager{home: config.Home}
}

// SetupIntegration adds the activation line to shell's rc file unless it
// is already there.
func (m *Manager) SetupIntegration(ctx context.Context, shell ShellType, opts SetupOptions) (*SetupResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if err := ValidateShell(shell); err != nil {
		return nil, err
	}

	rcPath, err := GetRCFilePath(shell, m.home)
	if err != nil {
		return nil, fmt.Errorf("get rc file path: %w", err)
	}
	exists, err := RCFileExists(rcPath)
	if err != nil {
		return nil, err
	}

	activationCmd, err := GenerateActivationCommand(shell)
	if err != nil {
		return nil, fmt.Errorf("generate activation command: %w", err)
	}

	hasActivation, err := HasActivationLine(rcPath)
	if err != nil {
		return nil, fmt.Errorf("check activation line: %w", err)
	}

	result := &SetupResult{
		Shell:             shell,
		RCFile:            rcPath,
		AlreadyPresent:    hasActivation,
		ActivationCommand: activationCmd,
	}
	if hasActivation && !opts.Force {
		return result, nil
	}
	if opts.DryRun {
		return result, nil
	}

	if opts.Backup && exists {
		result.BackupPath, err = BackupRCFile(rcPath)
		if err != nil {
			return nil, fmt.Errorf("backup rc file: %w", err)
		}
	}

	if err := AddActivationLine(rcPath, activationCmd); err != nil {
		return nil, fmt.Errorf("add activation line: %w", err)
	}
	result.Added = true
	return result, nil
}

// DetectAndSetup detects the user's shell and sets up integration
func (m *Manager) DetectAndSetup(ctx context.Context, opts SetupOptions) (*SetupResult, error) {
	detection, err := DetectShell(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect shell: %w", err)
	}
	if !detection.Shell.IsValid() {
		return nil, &UnsupportedShellError{Shell: detection.ShellPath}
	}
	return m.SetupIntegration(ctx, detection.Shell, opts)
}
