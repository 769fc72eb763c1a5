package recommend

import "errors"

var (
	// ErrInvalidInput is returned before any store call for bad arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned by Related for an unknown article id.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks a retryable failure of a required dependency.
	ErrUnavailable = errors.New("service unavailable")
)
