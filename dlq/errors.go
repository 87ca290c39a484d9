package dlq

import "errors"

// Sentinel errors for queue operations.
var (
	// ErrMissingType is returned when an operation is enqueued without a
	// type.
	ErrMissingType = errors.New("dlq: operation type is required")

	// ErrUnknownOperation is returned when an id names no queued
	// operation.
	ErrUnknownOperation = errors.New("dlq: unknown operation")

	// ErrAlreadyRunning is returned by Start when the processor is
	// already running.
	ErrAlreadyRunning = errors.New("dlq: processor already running")
)
