package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError of the same type and message.
// Details and the wrapped cause are ignored so that sentinel comparisons keep
// working after WithDetail or Wrap.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Message == t.Message
}

// WithDetail returns a copy of the error carrying an extra detail.
// Sentinels are shared, so they are never mutated in place.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	cp := &DomainError{
		Type:    e.Type,
		Message: e.Message,
		Err:     e.Err,
		Details: make(map[string]interface{}, len(e.Details)+1),
	}
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return cp
}

// Wrap returns a copy of the error with err attached as its cause.
func (e *DomainError) Wrap(err error) *DomainError {
	cp := &DomainError{
		Type:    e.Type,
		Message: e.Message,
		Err:     err,
		Details: e.Details,
	}
	return cp
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrTenantNotFound = NewDomainError(ErrorTypeNotFound, "tenant not found", nil)

	// Validation Errors
	ErrInvalidInput        = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrUnknownRole         = NewDomainError(ErrorTypeValidation, "unknown role requested", nil)
	ErrUnsupportedPKCE     = NewDomainError(ErrorTypeValidation, "code_challenge_method must be S256", nil)
	ErrMissingChallenge    = NewDomainError(ErrorTypeValidation, "code_challenge is required", nil)
	ErrUnauthorizedScope   = NewDomainError(ErrorTypeValidation, "requested scope is not authorized for tenant", nil)
	ErrUnknownTenant       = NewDomainError(ErrorTypeValidation, "unknown tenant", nil)
	ErrUnsupportedGrant    = NewDomainError(ErrorTypeValidation, "unsupported grant_type", nil)
	ErrInvalidTenantStatus = NewDomainError(ErrorTypeValidation, "invalid tenant status", nil)
	ErrReservedRole        = NewDomainError(ErrorTypeValidation, "role cannot be self-assigned", nil)

	// Authentication Errors
	ErrCodeNotFound        = NewDomainError(ErrorTypeUnauthorized, "authorization code not found", nil)
	ErrClientMismatch      = NewDomainError(ErrorTypeUnauthorized, "client_id does not match authorization code", nil)
	ErrRedirectMismatch    = NewDomainError(ErrorTypeUnauthorized, "redirect_uri does not match authorization code", nil)
	ErrInvalidVerifier     = NewDomainError(ErrorTypeUnauthorized, "invalid code_verifier", nil)
	ErrRefreshTokenInvalid = NewDomainError(ErrorTypeUnauthorized, "invalid refresh token", nil)
	ErrRefreshTokenExpired = NewDomainError(ErrorTypeUnauthorized, "refresh token expired", nil)
	ErrInvalidToken        = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)

	// Permission Errors
	ErrTenantInactive = NewDomainError(ErrorTypeForbidden, "tenant is not active", nil)

	// Conflict Errors
	ErrDuplicateTenant = NewDomainError(ErrorTypeConflict, "tenant already exists", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrStorageFailed = NewDomainError(ErrorTypeInternal, "storage operation failed", nil)
	ErrSigningFailed = NewDomainError(ErrorTypeInternal, "token signing failed", nil)
)

// Error type checking helper functions

func isType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return isType(err, ErrorTypeUnauthorized)
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return isType(err, ErrorTypeForbidden)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorMessage returns the public message of a domain error, or empty string
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}
