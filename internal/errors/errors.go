package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Bus connection
	ErrCodeConnection        ErrorCode = "CONNECTION_ERROR"
	ErrCodeNotConnected      ErrorCode = "NOT_CONNECTED"
	ErrCodeAlreadyConnecting ErrorCode = "ALREADY_CONNECTING"
	ErrCodeSubscription      ErrorCode = "SUBSCRIPTION_ERROR"
	ErrCodeParse             ErrorCode = "PARSE_ERROR"

	// Session operations
	ErrCodeRequestFailed       ErrorCode = "REQUEST_FAILED"
	ErrCodeRequestTimeout      ErrorCode = "REQUEST_TIMEOUT"
	ErrCodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	ErrCodeDuplicateRequest    ErrorCode = "DUPLICATE_REQUEST"

	// Authentication
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Connection(cause error) *AppError {
	return Wrap(ErrCodeConnection, "Bus connection failed", cause)
}

func NotConnected() *AppError {
	return New(ErrCodeNotConnected, "Not connected. Wait for the connection and try again")
}

func AlreadyConnecting(userID string) *AppError {
	return New(ErrCodeAlreadyConnecting, fmt.Sprintf("A connection for %s is already in progress", userID))
}

func Subscription(destination string, reason string) *AppError {
	return New(ErrCodeSubscription, fmt.Sprintf("Invalid subscription %q: %s", destination, reason))
}

func Parse(destination string, cause error) *AppError {
	return Wrap(ErrCodeParse, fmt.Sprintf("Malformed frame on %s", destination), cause)
}

func RequestFailed(message string) *AppError {
	if message == "" {
		message = "Request failed"
	}
	return New(ErrCodeRequestFailed, message)
}

func RequestTimeout(cause error) *AppError {
	return Wrap(ErrCodeRequestTimeout, "Request timed out", cause)
}

func InsufficientBalance(required, available float64) *AppError {
	return New(ErrCodeInsufficientBalance, "Insufficient wallet balance").
		WithDetails(map[string]float64{"required": required, "available": available})
}

func InvalidTransition(from, to string) *AppError {
	return New(ErrCodeInvalidTransition, fmt.Sprintf("Cannot move session from %s to %s", from, to))
}

func DuplicateRequest(requesterID string) *AppError {
	return New(ErrCodeDuplicateRequest, fmt.Sprintf("A request from %s is already pending", requesterID))
}

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}
