// internal/errors/errors.go
package appErrors

import (
    "errors"
    "fmt"
)

// ErrClaimConflict signals the idempotency key is claimed by an execution
// that has not saved its response yet. Callers should retry later; the
// coordinator never re-runs the command on their behalf.
var ErrClaimConflict = errors.New("idempotency key claimed by an in-flight execution")

// ValidationError marks bad command input. The resulting response is still
// cached under the idempotency key so resubmissions replay it verbatim.
type ValidationError struct {
    Field  string
    Reason string
}

func (e *ValidationError) Error() string {
    return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Helper constructor
func NewValidationError(field, reason string) error {
    return &ValidationError{Field: field, Reason: reason}
}

// TransientDeliveryError is a retriable send failure (provider hiccup,
// network timeout). The worker reschedules the task with backoff.
type TransientDeliveryError struct {
    Err error
}

func (e *TransientDeliveryError) Error() string {
    return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// PermanentDeliveryError is a send failure retrying cannot fix (rejected
// recipient, malformed address). The worker dead-letters immediately.
type PermanentDeliveryError struct {
    Err error
}

func (e *PermanentDeliveryError) Error() string {
    return fmt.Sprintf("permanent delivery failure: %v", e.Err)
}

func (e *PermanentDeliveryError) Unwrap() error { return e.Err }

// StorageError wraps a failed ledger operation. Nothing durable changed, so
// the whole logical step is safe to retry from scratch.
type StorageError struct {
    Op  string
    Err error
}

func (e *StorageError) Error() string {
    return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op string, err error) error {
    return &StorageError{Op: op, Err: err}
}
