package transaction

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying a TransactionError. Use errors.Is.
var (
	ErrStagingFailed    = errors.New("staging failed")
	ErrCommitFailed     = errors.New("commit failed")
	ErrStoreUnavailable = errors.New("state store unavailable")
	ErrLockContention   = errors.New("lock contention")

	// ErrPinned is returned when the sync path plans a change to a pinned
	// package.
	ErrPinned = errors.New("package is pinned")

	// ErrStalePlan is returned when the store changed between planning and
	// execution.
	ErrStalePlan = errors.New("installed state changed since the plan was made")
)

// ErrorKind classifies a TransactionError.
type ErrorKind int

const (
	KindStagingFailed ErrorKind = iota + 1
	KindCommitFailed
	KindStoreUnavailable
	KindLockContention
)

func (k ErrorKind) String() string {
	switch k {
	case KindStagingFailed:
		return "StagingFailed"
	case KindCommitFailed:
		return "CommitFailed"
	case KindStoreUnavailable:
		return "StoreUnavailable"
	case KindLockContention:
		return "LockContention"
	default:
		return "Unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindStagingFailed:
		return ErrStagingFailed
	case KindCommitFailed:
		return ErrCommitFailed
	case KindStoreUnavailable:
		return ErrStoreUnavailable
	case KindLockContention:
		return ErrLockContention
	default:
		return nil
	}
}

// TransactionError reports a failed Execute.
type TransactionError struct {
	Kind ErrorKind
	ID   string
	// Stage is the state the transaction was in when it failed.
	Stage State
	// Untouched is true when existing installations, links and store rows
	// are exactly as before the transaction.
	Untouched bool
	Err       error
}

func (e *TransactionError) Error() string {
	msg := fmt.Sprintf("transaction %s: %s during %s", shortID(e.ID), e.Kind, e.Stage)
	if e.Untouched {
		msg += " (existing installations untouched)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the kind sentinel and the cause to errors.Is and errors.As.
func (e *TransactionError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
