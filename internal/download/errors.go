package download

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying FetchError kinds for errors.Is.
var (
	ErrUnreachable      = errors.New("artifact unreachable")
	ErrSizeMismatch     = errors.New("artifact size mismatch")
	ErrChecksumMismatch = errors.New("artifact checksum mismatch")
	ErrInterrupted      = errors.New("download interrupted")
)

// Kind classifies a fetch failure.
type Kind int

const (
	KindUnreachable Kind = iota + 1
	KindSizeMismatch
	KindChecksumMismatch
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindSizeMismatch:
		return "size mismatch"
	case KindChecksumMismatch:
		return "checksum mismatch"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindUnreachable:
		return ErrUnreachable
	case KindSizeMismatch:
		return ErrSizeMismatch
	case KindChecksumMismatch:
		return ErrChecksumMismatch
	case KindInterrupted:
		return ErrInterrupted
	default:
		return nil
	}
}

// FetchError describes why one artifact could not be staged.
type FetchError struct {
	Kind Kind
	ID   string
	URL  string

	// Expected and Actual are set for size and checksum mismatches.
	Expected string
	Actual   string

	Err error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.ID, e.Kind)
	if e.Expected != "" || e.Actual != "" {
		msg += fmt.Sprintf(" (expected %s, got %s)", e.Expected, e.Actual)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *FetchError) Unwrap() []error {
	var errs []error
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
