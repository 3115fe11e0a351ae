// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrDataUnavailable   = errors.New("data unavailable")
	ErrDivideByZero      = errors.New("divide by zero")
	ErrNegativeCapital   = errors.New("capital would become negative")
	ErrMissingExitPrice  = errors.New("missing exit price")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrTradeNotFound     = errors.New("trade not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSymbolNotFound    = errors.New("symbol not found")
	ErrVenueNotFound     = errors.New("venue not registered")
	ErrRateLimited       = errors.New("rate limited")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrTimeout           = errors.New("operation timed out")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrDatabaseError     = errors.New("database error")
	ErrDecryption        = errors.New("decryption failed")
)

// VenueError represents a failure talking to a trading venue.
type VenueError struct {
	Venue  string
	Op     string
	Symbol string
	Err    error
}

func (e *VenueError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("venue error [%s] %s %s: %v", e.Venue, e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("venue error [%s] %s: %v", e.Venue, e.Op, e.Err)
}

func (e *VenueError) Unwrap() error {
	return e.Err
}

// NewVenueError creates a new VenueError.
func NewVenueError(venue, op, symbol string, err error) *VenueError {
	return &VenueError{
		Venue:  venue,
		Op:     op,
		Symbol: symbol,
		Err:    err,
	}
}

// DataError represents a feature or scoring collaborator failure.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

// Unwrap returns the cause, or ErrDataUnavailable when there is none.
func (e *DataError) Unwrap() error {
	if e.Err == nil {
		return ErrDataUnavailable
	}
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// AdmissionError is returned when the lifecycle manager denies a proposed trade.
// It is a normal outcome, not a failure.
type AdmissionError struct {
	Symbol  string
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission denied [%s] %s: %s (current: %.2f, limit: %.2f)", e.Rule, e.Symbol, e.Message, e.Current, e.Limit)
}

// NewAdmissionError creates a new AdmissionError.
func NewAdmissionError(symbol, rule string, current, limit float64, message string) *AdmissionError {
	return &AdmissionError{
		Symbol:  symbol,
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// InvariantError reports a violated invariant. It is never clamped away.
type InvariantError struct {
	Component string
	Rule      string
	Err       error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation [%s] %s: %v", e.Component, e.Rule, e.Err)
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

// NewInvariantError creates a new InvariantError.
func NewInvariantError(component, rule string, err error) *InvariantError {
	return &InvariantError{
		Component: component,
		Rule:      rule,
		Err:       err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// SecurityError represents a security-related error.
type SecurityError struct {
	Operation string
	Reason    string
	Err       error
}

func (e *SecurityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("security error [%s]: %s: %v", e.Operation, e.Reason, e.Err)
	}
	return fmt.Sprintf("security error [%s]: %s", e.Operation, e.Reason)
}

func (e *SecurityError) Unwrap() error {
	return e.Err
}

// NewSecurityError creates a new SecurityError.
func NewSecurityError(operation, reason string, err error) *SecurityError {
	return &SecurityError{
		Operation: operation,
		Reason:    reason,
		Err:       err,
	}
}

// IsInvariant reports whether err is an InvariantError.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// IsVenue reports whether err is a VenueError.
func IsVenue(err error) bool {
	var ve *VenueError
	return errors.As(err, &ve)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
