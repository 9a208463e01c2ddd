// Package apperr is the booking engine's error taxonomy. Every error returned across a
// package boundary matches exactly one of the sentinels below with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrInvalidRange     = errors.New("invalid range")
	ErrSlotUnavailable  = errors.New("slot unavailable")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyCancelled = errors.New("appointment already cancelled")
	ErrStorage          = errors.New("storage failure")
)

// ValidationError reports malformed input: a schedule, a request, a query.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RangeError is returned when a range ends before it starts.
type RangeError struct {
	Start time.Time
	End   time.Time
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range end %s is before start %s", e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
}

func (e *RangeError) Is(target error) bool { return target == ErrInvalidRange }

func InvalidRange(start, end time.Time) error {
	return &RangeError{Start: start, End: end}
}

// StorageError wraps a collaborator failure. The engine never retries these.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a StorageError. Domain errors and errors that are already
// storage errors pass through untouched, so stores can return them from nested calls.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomain(err) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsDomain reports whether err is one of the deterministic engine errors.
func IsDomain(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyCancelled)
}

func NotFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

func SlotUnavailable(staffID string, start time.Time) error {
	return fmt.Errorf("%w: staff %s at %s", ErrSlotUnavailable, staffID, start.UTC().Format(time.RFC3339))
}

func AlreadyCancelled(id string) error {
	return fmt.Errorf("%w: %s", ErrAlreadyCancelled, id)
}
