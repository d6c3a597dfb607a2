package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeDecode      ErrorType = "decode"
	ErrorTypeFetch       ErrorType = "fetch"
	ErrorTypeInference   ErrorType = "inference"
	ErrorTypePersistence ErrorType = "persistence"
	ErrorTypeConsistency ErrorType = "consistency"
	ErrorTypeConfig      ErrorType = "config"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func DecodeError(message string, err error) *DomainError {
	return NewError(ErrorTypeDecode, message, err)
}

func FetchError(message string, err error) *DomainError {
	return NewError(ErrorTypeFetch, message, err)
}

func InferenceError(message string, err error) *DomainError {
	return NewError(ErrorTypeInference, message, err)
}

func PersistenceError(message string, err error) *DomainError {
	return NewError(ErrorTypePersistence, message, err)
}

func ConsistencyError(message string, err error) *DomainError {
	return NewError(ErrorTypeConsistency, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

// IsType reports whether err carries the given domain error type anywhere
// in its chain.
func IsType(err error, t ErrorType) bool {
	var de *DomainError
	for errors.As(err, &de) {
		if de.Type == t {
			return true
		}
		err = de.Err
		de = nil
	}
	return false
}

// PageError tags an error with the page it occurred on.
type PageError struct {
	PageNumber int
	Err        error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.PageNumber, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// NewPageError wraps err with page context.
func NewPageError(page int, err error) *PageError {
	return &PageError{PageNumber: page, Err: err}
}
