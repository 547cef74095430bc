// Package memerr classifies memory engine failures into the kinds callers act on.
package memerr

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Kind is the caller-facing class of a failure.
type Kind int

const (
	// Operational covers I/O failures, oracle outages and timeouts.
	Operational Kind = iota
	// Declined is an expected validation outcome (too large, duplicate).
	Declined
	// NotFound means the referenced record does not exist.
	NotFound
	// Integrity marks a corrupt or unreadable record file.
	Integrity
)

func (k Kind) String() string {
	switch k {
	case Declined:
		return "declined"
	case NotFound:
		return "not_found"
	case Integrity:
		return "integrity"
	default:
		return "operational"
	}
}

var (
	ErrNotFound         = errors.New("memory: record not found")
	ErrTooLarge         = errors.New("memory: size limit exceeded")
	ErrEmptyBody        = errors.New("memory: empty body")
	ErrStoreUnavailable = errors.New("memory: store unavailable")
	ErrTimeout          = errors.New("memory: operation timed out")
	ErrLocked           = errors.New("memory: project is locked by another process")
	ErrOracle           = errors.New("memory: oracle unavailable")
)

// Error is a classified failure. Reason is safe to show to tool callers.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Reason != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, op, reason string, err error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}

// Decline builds a Declined error with a user-facing reason.
func Decline(op, reason string, err error) *Error {
	return New(Declined, op, reason, err)
}

// KindOf reports the kind of err. Unclassified errors are mapped by their
// sentinel chain; anything unknown is Operational.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, os.ErrNotExist):
		return NotFound
	case errors.Is(err, ErrTooLarge), errors.Is(err, ErrEmptyBody):
		return Declined
	default:
		return Operational
	}
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Classify wraps err so that it always carries a Kind and a caller-safe reason.
// Raw I/O details stay in the wrapped chain for logging.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			e.Op = op
		}
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return New(Operational, op, "timeout exceeded", ErrTimeout)
	case errors.Is(err, context.Canceled):
		return New(Operational, op, "cancelled", err)
	case errors.Is(err, ErrNotFound), errors.Is(err, os.ErrNotExist):
		return New(NotFound, op, "record not found", err)
	case errors.Is(err, ErrTooLarge):
		return New(Declined, op, "size limit exceeded", err)
	case errors.Is(err, ErrEmptyBody):
		return New(Declined, op, "empty body", err)
	case errors.Is(err, ErrLocked):
		return New(Operational, op, "project is served by another process", err)
	case errors.Is(err, ErrStoreUnavailable):
		return New(Operational, op, "memory store unavailable", err)
	case errors.Is(err, ErrOracle):
		return New(Operational, op, "oracle unavailable", err)
	default:
		return New(Operational, op, "internal error", err)
	}
}
