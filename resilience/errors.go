package resilience

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call
// without invoking the underlying operation. Callers can treat it as
// "this dependency is temporarily degraded" and move on.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// RetryExhaustedError reports that an operation failed on every attempt.
// It wraps the last underlying error, so errors.Is/As reach the original
// provider failure.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("resilience: giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }
