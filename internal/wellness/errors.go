package wellness

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a referenced user or pair does not exist.
	ErrNotFound = errors.New("wellness: not found")
	// ErrConsent indicates that no consent exists for a user/partner pair or that it was revoked.
	ErrConsent = errors.New("wellness: consent required")
	// ErrInferenceFailure marks a failed external inference attempt. It never leaves the engine.
	ErrInferenceFailure = errors.New("wellness: inference failure")
	// ErrDeliveryFailure indicates that the notification sender rejected a digest.
	ErrDeliveryFailure = errors.New("wellness: delivery failure")
	// ErrStorageFailure indicates a persistence layer error.
	ErrStorageFailure = errors.New("wellness: storage failure")
	// ErrInvalidInput indicates malformed caller input.
	ErrInvalidInput = errors.New("wellness: invalid input")
)

// ServiceError carries a stable operation.reason code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

// NewServiceError builds a ServiceError for the operation and reason.
func NewServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// StorageError wraps a persistence error so that errors.Is(err, ErrStorageFailure) holds.
func StorageError(operation, reason string, cause error) error {
	return NewServiceError(operation, reason, errors.Join(ErrStorageFailure, cause))
}

// ErrorCode extracts the ServiceError code from err, or "" when err carries none.
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
