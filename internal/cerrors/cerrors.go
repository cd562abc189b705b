// Package cerrors defines the distinguishable error kinds surfaced by the
// constellation core, so callers can branch on failure class with errors.As
// instead of string matching.
package cerrors

import "fmt"

// ValidationError signals malformed input to an editor command.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: field %q: %s", e.Field, e.Reason)
}

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvariantError signals a mutation that would violate a DAG invariant.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string { return "invariant: " + e.Reason }

func Invariant(reason string) error { return &InvariantError{Reason: reason} }

// NotFoundError signals a referenced task/edge/constellation is absent.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s %q", e.Kind, e.ID)
}

func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// StateError signals an operation illegal in the current state.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string { return "state: " + e.Reason }

func State(reason string) error { return &StateError{Reason: reason} }

// AssignmentError signals no eligible device or an unknown strategy.
type AssignmentError struct {
	Reason string
}

func (e *AssignmentError) Error() string { return "assignment: " + e.Reason }

func Assignment(reason string) error { return &AssignmentError{Reason: reason} }

// TransportError wraps an error returned by the device collaborator.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return "transport: " + e.Cause.Error() }
func (e *TransportError) Unwrap() error { return e.Cause }

func Transport(cause error) error { return &TransportError{Cause: cause} }

// TimeoutError signals a task execution or synchronizer wait exceeded budget.
type TimeoutError struct {
	Reason string
}

func (e *TimeoutError) Error() string { return "timeout: " + e.Reason }

func Timeout(reason string) error { return &TimeoutError{Reason: reason} }

// CancelledError signals an execution aborted by cancellation.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string { return "cancelled: " + e.Reason }

func Cancelled(reason string) error { return &CancelledError{Reason: reason} }
