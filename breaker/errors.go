package breaker

import "errors"

// Sentinel errors for breaker operations.
var (
	// ErrOpen is returned when a call is rejected because the circuit is
	// open (fail-fast).
	ErrOpen = errors.New("breaker: circuit open")

	// ErrUnknownBreaker is returned by registry operations that name a
	// breaker that was never created.
	ErrUnknownBreaker = errors.New("breaker: unknown breaker")
)
