// Package orcherr defines the closed error-kind taxonomy the orchestration
// core uses to classify failures at package boundaries. Callers switch on
// Kind rather than on error strings; Unwrap preserves the underlying cause
// for logging.
package orcherr

import "fmt"

// Kind is one of the closed set of error classifications.
type Kind string

const (
	NotFound               Kind = "not_found"
	PreconditionFailed     Kind = "precondition_failed"
	SpawnFailed            Kind = "spawn_failed"
	CycleDetected          Kind = "cycle_detected"
	ConflictBlocking       Kind = "conflict_blocking"
	ReadinessBelowThreshold Kind = "readiness_below_threshold"
	StorageUnavailable     Kind = "storage_unavailable"
	WorkerTimeout          Kind = "worker_timeout"
)

// Error is a classified error carrying a Kind alongside the usual message
// and wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
