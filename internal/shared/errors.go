// Package shared contains the error taxonomy used across the scheduler.
package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors. Every layer wraps one of them so callers can classify
// failures with errors.Is or KindOf without knowing the concrete driver.
var (
	// ErrNotFound indicates that a requested row does not exist
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates rejected input: unknown setting, bad value, malformed schedule
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates that the row changed under us, e.g. a claim was taken over
	ErrConflict = errors.New("conflict")

	// ErrProtected indicates an attempt to remove a system-protected row
	ErrProtected = errors.New("system protected")

	// ErrUnavailable indicates that the datastore cannot be reached or failed to answer
	ErrUnavailable = errors.New("datastore unavailable")

	// ErrResolution indicates that a task definition could not be turned into a handler
	ErrResolution = errors.New("task resolution failed")

	// ErrInvocation indicates that a handler ran and failed
	ErrInvocation = errors.New("task invocation failed")

	// ErrTimeout indicates that an operation exceeded its time budget
	ErrTimeout = errors.New("operation timed out")

	// ErrInvariantViolated indicates that a domain rule was violated
	ErrInvariantViolated = errors.New("invariant violated")
)

// Kind represents a category of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindProtected
	KindUnavailable
	KindResolution
	KindInvocation
	KindTimeout
	KindInvariantViolated
	KindCanceled
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindConflict:
		return "Conflict"
	case KindProtected:
		return "Protected"
	case KindUnavailable:
		return "Unavailable"
	case KindResolution:
		return "Resolution"
	case KindInvocation:
		return "Invocation"
	case KindTimeout:
		return "Timeout"
	case KindInvariantViolated:
		return "InvariantViolated"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

var kindToSentinel = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindValidation:        ErrValidation,
	KindConflict:          ErrConflict,
	KindProtected:         ErrProtected,
	KindUnavailable:       ErrUnavailable,
	KindResolution:        ErrResolution,
	KindInvocation:        ErrInvocation,
	KindTimeout:           ErrTimeout,
	KindInvariantViolated: ErrInvariantViolated,
}

// kindPriorities defines the deterministic order used by KindOf.
// Lower index wins when several sentinels are present in one chain.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindTimeout, ErrTimeout},
	{KindUnavailable, ErrUnavailable}, // a dead datastore outranks whatever it was doing
	{KindNotFound, ErrNotFound},
	{KindValidation, ErrValidation},
	{KindProtected, ErrProtected},
	{KindConflict, ErrConflict},
	{KindResolution, ErrResolution},
	{KindInvocation, ErrInvocation},
	{KindInvariantViolated, ErrInvariantViolated},
}

// KindOf returns the Kind of err by walking its chain in priority order.
// Returns KindUnknown for nil and unrecognized errors.
//
// Example:
//
//	switch shared.KindOf(err) {
//	case shared.KindNotFound:
//	    return http.StatusNotFound
//	case shared.KindUnavailable:
//	    return http.StatusServiceUnavailable
//	default:
//	    return http.StatusInternalServerError
//	}
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, p := range kindPriorities {
		switch p.kind {
		case KindCanceled:
			if IsCanceled(err) {
				return KindCanceled
			}
		case KindTimeout:
			if IsTimeout(err) {
				return KindTimeout
			}
		default:
			if errors.Is(err, p.err) {
				return p.kind
			}
		}
	}
	return KindUnknown
}

// HasKind reports whether KindOf(err) == kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// SentinelOf returns the sentinel error for kind, or nil for KindUnknown and KindCanceled.
func SentinelOf(kind Kind) error {
	return kindToSentinel[kind]
}

// MarkKind wraps err with the sentinel of kind while preserving err in the chain,
// so both KindOf(marked) == kind and errors.Is(marked, err) hold.
// A nil err yields the bare sentinel. Marking is idempotent.
func MarkKind(err error, kind Kind) error {
	if err == nil {
		return SentinelOf(kind)
	}
	sentinel := SentinelOf(kind)
	if sentinel == nil {
		return err
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context formatted as "context: err".
// Returns nil for a nil err.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf is Wrap with a formatted context.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// Invariant returns an ErrInvariantViolated error when condition is false.
func Invariant(condition bool, message string) error {
	if condition {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvariantViolated, message)
}

// Validationf builds a validation error with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsCanceled reports whether err is a context cancellation.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

// IsTimeout reports whether err indicates a timeout: context deadline,
// ErrTimeout or a net.Error reporting Timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsNotFound reports whether err indicates a missing row.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err indicates rejected input.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsConflict reports whether err indicates a concurrent modification.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsProtected reports whether err indicates a system-protected row.
func IsProtected(err error) bool { return errors.Is(err, ErrProtected) }

// IsUnavailable reports whether err indicates datastore unavailability.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
