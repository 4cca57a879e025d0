package model

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers and clients can branch on it: the
// string value is stable and carried verbatim in error frames.
type Kind string

const (
	KindAuthFailure       Kind = "auth_failure"
	KindProtocolViolation Kind = "protocol_violation"
	KindIntegrityFailure  Kind = "integrity_failure"
	KindDuplicateRequest  Kind = "duplicate_request"
	KindTransientStorage  Kind = "transient_storage"
)

type (
	// Error is a classified failure. Wrap with fmt.Errorf("...: %w", err)
	// as usual; KindOf unwraps to the classification.
	Error struct {
		Kind   Kind
		Reason string
		Err    error
	}
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func WrapError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf extracts the classification from an error chain. Unclassified
// errors map to the transient kind so callers retry rather than drop.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindTransientStorage
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == kind
}
