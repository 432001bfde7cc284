// Package errors provides domain-specific errors for the petsync daemon.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common domain error conditions.
var (
	ErrNotPaired       = errors.New("device not paired")
	ErrDeviceRevoked   = errors.New("device revoked")
	ErrNotFound        = errors.New("document not found")
	ErrUnknownAction   = errors.New("unknown command action")
	ErrSessionExpired  = errors.New("session expired")
	ErrDecryptFailed   = errors.New("secret decryption failed")
	ErrEncryptFailed   = errors.New("secret encryption failed")
	ErrGatewayNotFound = errors.New("agent gateway binary not found")
	ErrStoreClosed     = errors.New("document store closed")
)

// ErrorCode categorizes errors for handling and reporting.
type ErrorCode string

const (
	CodeValidation ErrorCode = "VALIDATION"
	CodeNotFound   ErrorCode = "NOT_FOUND"
	CodeStore      ErrorCode = "STORE"
	CodeGateway    ErrorCode = "GATEWAY"
	CodeSecrets    ErrorCode = "SECRETS"
	CodeAuth       ErrorCode = "AUTH"
	CodeExecution  ErrorCode = "EXECUTION"
	CodeConfig     ErrorCode = "CONFIG"
)

// PetsyncError wraps errors with additional context for debugging and handling.
type PetsyncError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error returns a formatted error string including the code, message, and cause if present.
func (e *PetsyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for use with errors.Is and errors.As.
func (e *PetsyncError) Unwrap() error {
	return e.Cause
}

// NewError creates a new PetsyncError with the given code, message, and optional cause.
func NewError(code ErrorCode, message string, cause error) *PetsyncError {
	return &PetsyncError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error's context and returns the error.
// This allows for method chaining when adding multiple context values.
func WithContext(err *PetsyncError, key string, value interface{}) *PetsyncError {
	if err.Context == nil {
		err.Context = make(map[string]interface{})
	}
	err.Context[key] = value
	return err
}

// Is reports whether err matches target using errors.Is semantics.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain matching target and sets target to that error value.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
