// Package errors defines the sentinel errors shared by the index and its
// outer surfaces, and maps them to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")

	// ErrIO marks failures of the durable index storage.
	ErrIO = errors.New("index storage failure")
	// ErrParse marks a malformed structured query.
	ErrParse = errors.New("malformed query")
	// ErrSearchSubsystem is the single opaque failure surfaced by the index
	// service. It always wraps the underlying cause.
	ErrSearchSubsystem = errors.New("search subsystem failure")
	ErrIndexClosed     = errors.New("index is closed")
	ErrLocked          = errors.New("index is locked by another writer")
	ErrCorrupt         = errors.New("index data is corrupt")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// IO tags err as a storage failure while keeping it unwrappable.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrIO) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

// Subsystem wraps err as a search subsystem failure.
func Subsystem(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSearchSubsystem) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrSearchSubsystem, op, err)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrSearchSubsystem), errors.Is(err, ErrIndexClosed), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
