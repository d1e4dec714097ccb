// Package errors provides structured error handling for tornflow.
//
// Every failure in the ingestion pipeline is classified into a fixed
// taxonomy so that callers can decide between retrying, aborting the
// batch, or failing the cycle without string matching.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeCredential represents a bad or missing API key. Fatal, never retried.
	ErrorTypeCredential ErrorType = "credential"
	// ErrorTypeRateLimit represents an upstream rate limit. Retryable with backoff.
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeConnection represents network connection errors. Retryable.
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeTimeout represents request or job timeouts. Retryable.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeAPI represents any other upstream error code. Fatal for the cycle.
	ErrorTypeAPI ErrorType = "api"
	// ErrorTypeSchema represents missing required columns or incompatible types.
	// Fatal for the batch.
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeValidation represents row-level coercion failures.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeStorage represents warehouse operation failures. Fatal for the
	// cycle; the next cycle is safe because the merge step is idempotent.
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeConfig represents configuration errors caught at construction.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if the error is transient and worth retrying
// with backoff. Everything outside rate limits, timeouts and connection
// failures propagates immediately.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the taxonomy type of err, or ErrorTypeInternal for
// errors that did not originate in this package.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
