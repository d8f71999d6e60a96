// Package errs classifies domain errors so transports can map them without
// knowing every sentinel.
package errs

import "errors"

// Kind is the caller-facing class of a failure.
type Kind int

const (
	Internal Kind = iota
	// Admission errors are caller-correctable and never change state.
	Admission
	// Temporal errors mean the phase or time window does not allow the call yet (or anymore).
	Temporal
	// Conflict errors mean another caller already performed the transition.
	Conflict
	// Integrity errors are permanent for the record they concern.
	Integrity
	// Transfer errors leave a durable pending marker behind.
	Transfer
	NotFound
	Forbidden
)

func (k Kind) String() string {
	switch k {
	case Admission:
		return "admission"
	case Temporal:
		return "temporal"
	case Conflict:
		return "conflict"
	case Integrity:
		return "integrity"
	case Transfer:
		return "transfer"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

// New returns a sentinel error tagged with kind.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// KindOf walks the wrap chain and reports the first tagged kind.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Internal
}

// Retryable reports whether the same call may succeed later without the caller changing its input.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Temporal, Transfer:
		return true
	}
	return false
}
