// Package domain defines core types, interfaces, and errors for the data platform.
package domain

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// AccessDeniedError indicates insufficient permissions.
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrAccessDenied creates an AccessDeniedError with a formatted message.
func ErrAccessDenied(format string, args ...interface{}) *AccessDeniedError {
	return &AccessDeniedError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// StorageError indicates a transient failure talking to the object store.
type StorageError struct {
	Message string
	Cause   error
}

func (e *StorageError) Error() string { return e.Message }
func (e *StorageError) Unwrap() error { return e.Cause }

// BusError indicates a transient failure talking to the message bus.
type BusError struct {
	Message string
	Cause   error
}

func (e *BusError) Error() string { return e.Message }
func (e *BusError) Unwrap() error { return e.Cause }

// CatalogError indicates a transient failure talking to the table catalog,
// as distinct from a deterministic SchemaMismatchError.
type CatalogError struct {
	Message string
	Cause   error
}

func (e *CatalogError) Error() string { return e.Message }
func (e *CatalogError) Unwrap() error { return e.Cause }

// JobStoreError indicates a transient failure talking to the job store.
type JobStoreError struct {
	Message string
	Cause   error
}

func (e *JobStoreError) Error() string { return e.Message }
func (e *JobStoreError) Unwrap() error { return e.Cause }

// SchemaMismatchError indicates an append's schema is incompatible with an
// existing table. Deterministic — never retried.
type SchemaMismatchError struct {
	Message string
}

func (e *SchemaMismatchError) Error() string { return e.Message }

// ExecutionError indicates a deterministic engine failure during scan,
// aggregation, or materialization (type incompatibility, overflow, malformed
// plan). Never retried.
type ExecutionError struct {
	Message string
	Cause   error
}

func (e *ExecutionError) Error() string { return e.Message }
func (e *ExecutionError) Unwrap() error { return e.Cause }

// TimeoutError indicates an execution stage exceeded its deadline. Terminal,
// never retried — a later attempt is no more likely to finish in time.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string { return e.Message }

// ErrStorage creates a StorageError wrapping cause.
func ErrStorage(cause error, format string, args ...interface{}) *StorageError {
	return &StorageError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ErrBus creates a BusError wrapping cause.
func ErrBus(cause error, format string, args ...interface{}) *BusError {
	return &BusError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ErrCatalog creates a CatalogError wrapping cause.
func ErrCatalog(cause error, format string, args ...interface{}) *CatalogError {
	return &CatalogError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ErrJobStore creates a JobStoreError wrapping cause.
func ErrJobStore(cause error, format string, args ...interface{}) *JobStoreError {
	return &JobStoreError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ErrSchemaMismatch creates a SchemaMismatchError with a formatted message.
func ErrSchemaMismatch(format string, args ...interface{}) *SchemaMismatchError {
	return &SchemaMismatchError{Message: fmt.Sprintf(format, args...)}
}

// ErrExecution creates an ExecutionError wrapping cause.
func ErrExecution(cause error, format string, args ...interface{}) *ExecutionError {
	return &ExecutionError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ErrTimeout creates a TimeoutError with a formatted message.
func ErrTimeout(format string, args ...interface{}) *TimeoutError {
	return &TimeoutError{Message: fmt.Sprintf(format, args...)}
}

// Retryable reports whether err represents a transport/infrastructure
// failure that should be retried by requeuing the triggering message,
// as opposed to a deterministic input or execution error.
func Retryable(err error) bool {
	var storageErr *StorageError
	var busErr *BusError
	var catalogErr *CatalogError
	var jobStoreErr *JobStoreError
	switch {
	case errors.As(err, &storageErr):
		return true
	case errors.As(err, &busErr):
		return true
	case errors.As(err, &catalogErr):
		return true
	case errors.As(err, &jobStoreErr):
		return true
	default:
		return false
	}
}
