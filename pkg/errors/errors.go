package errors

import (
	"errors"
	"fmt"
)

// Error types for better error classification and handling

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeInvalidArgument     ErrorType = "invalid_argument"
	ErrorTypeAccessDenied        ErrorType = "access_denied"
	ErrorTypePending             ErrorType = "pending"
	ErrorTypePropertyReadOnly    ErrorType = "property_read_only"
	ErrorTypeNoSuchUnit          ErrorType = "no_such_unit"
	ErrorTypeUnitMasked          ErrorType = "unit_masked"
	ErrorTypeNotReferenced       ErrorType = "not_referenced"
	ErrorTypeOnlyByDependency    ErrorType = "only_by_dependency"
	ErrorTypeResourceUnavailable ErrorType = "resource_unavailable"
	ErrorTypeConflict            ErrorType = "conflict"
	ErrorTypeIO                  ErrorType = "io"
	ErrorTypeInternal            ErrorType = "internal"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Argument and policy errors
func NewInvalidArgumentError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInvalidArgument, message, cause)
}

func NewAccessDeniedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeAccessDenied, message, cause)
}

// NewPendingError reports that authorization is still outstanding. It is not
// a terminal failure: the transport is expected to redeliver the call once
// the policy engine resolves.
func NewPendingError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePending, message, cause)
}

func NewPropertyReadOnlyError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePropertyReadOnly, message, cause)
}

// Unit load-state errors
func NewNoSuchUnitError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNoSuchUnit, message, cause)
}

func NewUnitMaskedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeUnitMasked, message, cause)
}

func NewNotReferencedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotReferenced, message, cause)
}

func NewOnlyByDependencyError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeOnlyByDependency, message, cause)
}

func NewResourceUnavailableError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeResourceUnavailable, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

// System errors
func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

// Error checking helpers
func IsInvalidArgumentError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypeInvalidArgument
}

func IsAccessDeniedError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypeAccessDenied
}

func IsPendingError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypePending
}

func IsPropertyReadOnlyError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypePropertyReadOnly
}

func IsNoSuchUnitError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypeNoSuchUnit
}

func IsUnitMaskedError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypeUnitMasked
}

func IsNotReferencedError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypeNotReferenced
}

func IsOnlyByDependencyError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypeOnlyByDependency
}

func IsResourceUnavailableError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypeResourceUnavailable
}

func IsConflictError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypeConflict
}

func IsIOError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypeIO
}

func IsInternalError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == ErrorTypeInternal
}
