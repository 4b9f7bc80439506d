package booking

import (
	"errors"
	"fmt"
)

var (
	ErrSlotConflict = errors.New("slot unavailable")
	ErrNotFound     = errors.New("appointment not found")
)

const (
	CodeInvalidArgument = "invalid_argument"
	CodeTerminalState   = "terminal_state"
)

// ValidationError reports a malformed request or an illegal state transition.
type ValidationError struct {
	Field  string
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Code: CodeInvalidArgument, Reason: reason}
}

// Reasons carried by SlotConflictError.
const (
	ReasonTaken            = "slot_taken"
	ReasonNotOffered       = "slot_not_offered"
	ReasonDailyLimit       = "daily_limit_reached"
	// ReasonConcurrentUpdate: the appointment kept moving under the lock.
	ReasonConcurrentUpdate = "concurrent_update"
)

// SlotConflictError is returned when the requested slot cannot be committed.
// It matches ErrSlotConflict under errors.Is.
type SlotConflictError struct {
	Reason string
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot unavailable: %s", e.Reason)
}

func (e *SlotConflictError) Is(target error) bool {
	return target == ErrSlotConflict
}
