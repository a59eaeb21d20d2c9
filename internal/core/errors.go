// Package core defines the fundamental types and errors for the habit engine.
package core

import (
	"errors"
	"fmt"
)

// Core errors that can occur across the system
var (
	// Parsing errors
	ErrParseFailure    = errors.New("parse failure")
	ErrUnknownScale    = errors.New("unknown scale")
	ErrInvalidOverride = errors.New("invalid override")
	ErrInvalidCadence  = errors.New("invalid cadence")

	// Habit errors
	ErrHabitNotFound = errors.New("habit not found")
	ErrHabitExists   = errors.New("active habit with this name already exists")
	ErrHabitInactive = errors.New("habit is not active")

	// Progression errors
	ErrDuplicateCompletion = errors.New("habit already completed for this day")
	ErrUserNotFound        = errors.New("user not found")

	// Delivery errors
	ErrDelivery         = errors.New("delivery failed")
	ErrDeliveryNotFound = errors.New("delivery not found")

	// Storage errors
	ErrPersistence     = errors.New("persistence unavailable")
	ErrMigrationFailed = errors.New("migration failed")
	ErrRecordNotFound  = errors.New("record not found")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
)

// ParseReason names why a free-text habit description was rejected.
type ParseReason string

const (
	ReasonEmptyName ParseReason = "EMPTY_NAME"
)

// ParseError is returned when free text cannot be turned into a habit draft.
// It matches ErrParseFailure under errors.Is.
type ParseError struct {
	Reason ParseReason
	Input  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failure (%s): %q", e.Reason, e.Input)
}

// Is reports whether target is ErrParseFailure.
func (e *ParseError) Is(target error) bool {
	return target == ErrParseFailure
}

// DuplicateError carries the completion that already exists for the
// (user, habit, day) triple.
type DuplicateError struct {
	Existing *CompletionEvent
}

func (e *DuplicateError) Error() string {
	if e.Existing == nil {
		return ErrDuplicateCompletion.Error()
	}
	return fmt.Sprintf("%s (%s on %s)", ErrDuplicateCompletion.Error(), e.Existing.HabitID, e.Existing.Day)
}

// Is reports whether target is ErrDuplicateCompletion.
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateCompletion
}

// IsRetryable reports whether the caller may retry the operation unchanged.
// Only persistence failures qualify; a retried completion re-runs the whole
// progression step because nothing was committed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}
