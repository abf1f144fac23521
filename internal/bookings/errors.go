package bookings

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotConflict means another non-cancelled appointment already holds an overlapping interval.
	ErrSlotConflict = errors.New("slot already booked")
	// ErrNotFound means no appointment matched.
	ErrNotFound = errors.New("appointment not found")
	// ErrStorageFailure marks database failures; callers should retry later.
	ErrStorageFailure = errors.New("storage failure")
	// ErrInvalidTransition means the appointment's current status forbids the change.
	ErrInvalidTransition = errors.New("invalid appointment status transition")
	// ErrRateLimited means the patient exceeded the booking velocity limit.
	ErrRateLimited = errors.New("too many booking attempts")
	// ErrForbidden means a patient tried to act for another patient.
	ErrForbidden = errors.New("patients may only book for themselves")
)

// ValidationError rejects a request before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("bookings: %s: %w: %w", op, ErrStorageFailure, err)
}
