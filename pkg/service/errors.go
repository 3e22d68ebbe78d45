package service

import (
	"errors"
	"fmt"
)

// Engine error categories. Callers classify failures with errors.Is;
// the wrapped cause carries the detail.
var (
	// ErrValidation indicates locally produced input that cannot be
	// sent (empty, oversized, malformed fields).
	ErrValidation = errors.New("validation failed")

	// ErrRateLimited indicates a sliding-window rejection. The wrapped
	// *ratelimit.Violation carries the scope and retry hint.
	ErrRateLimited = errors.New("rate limited")

	// ErrConnection indicates a peer link could not be established or
	// was lost mid-operation.
	ErrConnection = errors.New("connection error")

	// ErrTimeout indicates an operation exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrMalformed indicates inbound bytes that do not decode into a
	// valid message. Malformed input is dropped, never answered.
	ErrMalformed = errors.New("malformed message")

	// ErrTransportUnavailable indicates the link layer is gone. This
	// is fatal: the engine shuts down rather than retrying.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrNotRunning indicates the service has not been started or has
	// been stopped.
	ErrNotRunning = errors.New("service not running")
)

func validationError(cause error) error {
	return fmt.Errorf("%w: %w", ErrValidation, cause)
}

func rateLimitError(cause error) error {
	return fmt.Errorf("%w: %w", ErrRateLimited, cause)
}

func connectionError(cause error) error {
	return fmt.Errorf("%w: %w", ErrConnection, cause)
}

func timeoutError(cause error) error {
	return fmt.Errorf("%w: %w", ErrTimeout, cause)
}

func malformedError(cause error) error {
	return fmt.Errorf("%w: %w", ErrMalformed, cause)
}
