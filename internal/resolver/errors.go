package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZebulonRouseFrantzich/portabin/internal/index"
)

// Sentinel errors classifying ResolutionError for errors.Is.
var (
	ErrNotFound  = errors.New("package not found")
	ErrAmbiguous = errors.New("ambiguous package specifier")
)

// ResolutionError reports why a specifier did not resolve to one record.
type ResolutionError struct {
	Specifier Specifier
	// Candidates is the tied set for an ambiguous specifier, or the
	// name matches that qualifiers excluded for a not-found one.
	Candidates []index.PackageRecord
	err        error
}

func (e *ResolutionError) Error() string {
	switch e.err {
	case ErrAmbiguous:
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %q matches %d packages; add a qualifier to pick one:", e.err, e.Specifier.String(), len(e.Candidates))
		for _, c := range e.Candidates {
			fmt.Fprintf(&b, "\n  %s (repository %s, %s)", c.String(), c.Repository, c.Checksum)
		}
		return b.String()
	default:
		if len(e.Candidates) > 0 {
			var available []string
			for _, c := range e.Candidates {
				available = append(available, c.String())
			}
			return fmt.Sprintf("%s: %q (available: %s)", e.err, e.Specifier.String(), strings.Join(available, ", "))
		}
		return fmt.Sprintf("%s: %q", e.err, e.Specifier.String())
	}
}

func (e *ResolutionError) Unwrap() error {
	return e.err
}

func notFound(spec Specifier, near []index.PackageRecord) error {
	return &ResolutionError{Specifier: spec, Candidates: near, err: ErrNotFound}
}

func ambiguous(spec Specifier, tied []index.PackageRecord) error {
	return &ResolutionError{Specifier: spec, Candidates: tied, err: ErrAmbiguous}
}
