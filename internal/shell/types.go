package shell

import (
	"errors"
	"fmt"
	"strings"
)

// ShellType names a shell portabin can activate.
type ShellType string

const (
	ShellBash    ShellType = "bash"
	ShellZsh     ShellType = "zsh"
	ShellFish    ShellType = "fish"
	ShellUnknown ShellType = "unknown"
)

func (s ShellType) String() string {
	return string(s)
}

// IsValid reports whether portabin can emit a PATH snippet for s.
func (s ShellType) IsValid() bool {
	switch s {
	case ShellBash, ShellZsh, ShellFish:
		return true
	default:
		return false
	}
}

// Confidence grades a DetectionResult.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceNone   Confidence = "none"
)

// DetectionResult says which shell `portabin env` should target and how
// that was decided.
type DetectionResult struct {
	Shell ShellType
	// Method is "SHELL", "parent-process" or "none".
	Method     string
	ShellPath  string
	Confidence Confidence
}

// Config locates rc files. An empty Home means $HOME.
type Config struct {
	Home string
}

// SetupOptions controls how `portabin env --setup` edits the rc file.
type SetupOptions struct {
	Force  bool
	Backup bool
	DryRun bool
}

// SetupResult reports what SetupIntegration did, or would do on a dry run.
type SetupResult struct {
	Shell             ShellType
	RCFile            string
	Added             bool
	AlreadyPresent    bool
	BackupPath        string
	ActivationCommand string
}

// ErrUnsupportedShell is matched by every *UnsupportedShellError.
var ErrUnsupportedShell = errors.New("unsupported shell")

type UnsupportedShellError struct {
	Shell string
}

func (e *UnsupportedShellError) Error() string {
	names := make([]string, 0, len(GetSupportedShells()))
	for _, s := range GetSupportedShells() {
		names = append(names, s.String())
	}
	return fmt.Sprintf("unsupported shell %q (portabin supports %s)", e.Shell, strings.Join(names, ", "))
}

func (e *UnsupportedShellError) Is(target error) bool {
	return target == ErrUnsupportedShell
}

// RCFileError is returned when reading or rewriting a shell rc file fails.
type RCFileError struct {
	Path    string
	Message string
	Cause   error
}

func (e *RCFileError) Error() string {
	msg := e.Path + ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RCFileError) Unwrap() error {
	return e.Cause
}
