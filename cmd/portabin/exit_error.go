package main

import (
	"errors"
	"fmt"

	"github.com/ZebulonRouseFrantzich/portabin/internal/config"
	"github.com/ZebulonRouseFrantzich/portabin/internal/download"
	"github.com/ZebulonRouseFrantzich/portabin/internal/resolver"
	"github.com/ZebulonRouseFrantzich/portabin/internal/shell"
	"github.com/ZebulonRouseFrantzich/portabin/internal/store"
	"github.com/ZebulonRouseFrantzich/portabin/internal/transaction"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitUsage       = 2
	ExitNotFound    = 3
	ExitAmbiguous   = 4
	ExitFetch       = 5
	ExitLocked      = 6
	ExitUnhealthy   = 7
	ExitConfig      = 8
	ExitInterrupted = 130
)

// ExitError carries a specific exit code out of a RunE handler.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitCode classifies err for the process exit status.
func exitCode(err error) int {
	var exitErr *ExitError
	var verr *config.ValidationError
	var perr *config.ParseError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, transaction.ErrLockContention), errors.Is(err, transaction.ErrLockHeld):
		return ExitLocked
	case errors.Is(err, resolver.ErrAmbiguous):
		return ExitAmbiguous
	case errors.Is(err, resolver.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, download.ErrInterrupted) && !errors.Is(err, download.ErrUnreachable):
		return ExitInterrupted
	case errors.Is(err, download.ErrUnreachable), errors.Is(err, download.ErrChecksumMismatch), errors.Is(err, download.ErrSizeMismatch):
		return ExitFetch
	case errors.Is(err, shell.ErrUnsupportedShell):
		return ExitUsage
	case errors.As(err, &verr), errors.As(err, &perr):
		return ExitConfig
	default:
		return ExitError
	}
}
