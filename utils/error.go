package utils

import (
	"errors"
	"fmt"
)

var (
	ErrorRecordNotFound      = errors.New("record not found")
	ErrValidation            = errors.New("validation failed")
	ErrOrderLocked           = errors.New("manufacturing order is completed and locked")
	ErrNotReady              = errors.New("manufacturing order is not ready to produce")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrPersistence           = errors.New("persistence failure")
	ErrLockNotObtained       = errors.New("could not obtain lock")
)

// ValidationError is returned before any I/O when input is rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func NewValidationError(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Persistence wraps a storage error so callers can match ErrPersistence.
// Nil and already classified errors pass through untouched.
func Persistence(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrPersistence, ErrorRecordNotFound, ErrValidation, ErrOrderLocked, ErrNotReady, ErrInsufficientInventory, ErrLockNotObtained} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
