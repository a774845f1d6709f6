// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrNoTradableDays    = errors.New("no tradable days in backtest window")
	ErrEmptyDateOverlap  = errors.New("configured window does not overlap data series")
	ErrUnknownParameter  = errors.New("unknown optimization parameter")
	ErrUnknownStrategy   = errors.New("unknown strategy type")
	ErrCheckpointMissing = errors.New("checkpoint not found")
	ErrInterrupted       = errors.New("run interrupted")
	ErrDatabaseError     = errors.New("database error")
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataError represents a data-related error.
type DataError struct {
	DataType string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s]: %s: %v", e.DataType, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s]: %s", e.DataType, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Message:  message,
		Err:      err,
	}
}

// ParameterError reports an optimization parameter rejected by the
// per-strategy allow-list, including the list so the caller can
// self-diagnose without reading source.
type ParameterError struct {
	Name     string
	Strategy string
	Allowed  []string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("parameter %q is not tunable for strategy %q (allowed: %v)",
		e.Name, e.Strategy, e.Allowed)
}

func (e *ParameterError) Unwrap() error {
	return ErrUnknownParameter
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
