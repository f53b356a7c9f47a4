package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is lets sentinel DomainErrors match wrapped copies of themselves.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeConfiguration        = "CONFIGURATION_ERROR"
	ErrCodeProvider             = "PROVIDER_ERROR"
	ErrCodeEmbeddingUnavailable = "EMBEDDING_UNAVAILABLE"
	ErrCodeDimensionMismatch    = "DIMENSION_MISMATCH"
	ErrCodeSearchDegraded       = "SEARCH_DEGRADED"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrTenantRequired  = NewDomainError(ErrCodeValidation, "tenant id is required")
	ErrSourceRequired  = NewDomainError(ErrCodeValidation, "source is required")
	ErrFilterRequired  = NewDomainError(ErrCodeValidation, "at least one filter is required for bulk operations")
	ErrInvalidQuality  = NewDomainError(ErrCodeValidation, "quality must be between 0 and 1")
	ErrInvalidCursor   = NewDomainError(ErrCodeValidation, "invalid pagination cursor")
)

// Not found errors
var (
	ErrChunkNotFound = NewDomainError(ErrCodeNotFound, "knowledge chunk not found")
)

// Embedding provider errors
var (
	ErrEmbeddingUnavailable = NewDomainError(ErrCodeEmbeddingUnavailable, "embedding provider unavailable")
	ErrDimensionMismatch    = NewDomainError(ErrCodeDimensionMismatch, "embedding has wrong dimensions")
)

// Degradation errors. These are recorded for observability but never
// propagated to search callers while a degrade path remains.
var (
	ErrSearchDegraded = NewDomainError(ErrCodeSearchDegraded, "search degraded: vector and keyword paths unavailable")
	ErrReindexAborted = NewDomainError(ErrCodeEmbeddingUnavailable, "reindex aborted: embedding batch failed")
)

// CodeOf returns the DomainError code for err, or ErrCodeInternalError
// when err is not a DomainError.
func CodeOf(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ErrCodeInternalError
}
