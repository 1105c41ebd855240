package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a specific error type
type ErrorCode string

const (
	// Balance errors
	ErrInsufficientFunds  ErrorCode = "INSUFFICIENT_FUNDS"
	ErrDuplicateReference ErrorCode = "DUPLICATE_REFERENCE"

	// Workflow errors
	ErrAlreadyDecided   ErrorCode = "ALREADY_DECIDED"
	ErrNotActive        ErrorCode = "NOT_ACTIVE"
	ErrExchangeDisabled ErrorCode = "EXCHANGE_DISABLED"
	ErrInvalidState     ErrorCode = "INVALID_STATE"
	ErrNotFound         ErrorCode = "NOT_FOUND"

	// Request errors
	ErrInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"

	// System errors
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// LedgerError is the error type surfaced by every ledger operation
type LedgerError struct {
	Code    ErrorCode
	Message string
	Err     error // Underlying error, if any
}

// Error implements the error interface
func (e *LedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewLedgerError creates a new LedgerError
func NewLedgerError(code ErrorCode, message string) *LedgerError {
	return &LedgerError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error in a LedgerError
func WrapError(code ErrorCode, message string, err error) *LedgerError {
	return &LedgerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsLedgerError checks if an error chain holds a LedgerError with a specific code
func IsLedgerError(err error, code ErrorCode) bool {
	var ledgerErr *LedgerError
	if !As(err, &ledgerErr) {
		return false
	}
	return ledgerErr.Code == code
}

// CodeOf returns the code of the first LedgerError in the chain, or "" if none
func CodeOf(err error) ErrorCode {
	var ledgerErr *LedgerError
	if !As(err, &ledgerErr) {
		return ""
	}
	return ledgerErr.Code
}

// As finds the first LedgerError in err's chain
func As(err error, target **LedgerError) bool {
	if err == nil || target == nil {
		return false
	}
	return errors.As(err, target)
}

// HTTPStatus maps an error to the status code the API responds with
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrInvalidArgument:
		return http.StatusBadRequest
	case ErrPermissionDenied:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAlreadyDecided, ErrDuplicateReference, ErrInvalidState:
		return http.StatusConflict
	case ErrInsufficientFunds, ErrNotActive, ErrExchangeDisabled:
		return http.StatusUnprocessableEntity
	case ErrStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
