package upstream

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingAPIKey is returned when no upstream API key is configured.
var ErrMissingAPIKey = errors.New("API key not found. Please set VT_API_KEY in .env file")

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("upstream temporarily unavailable (circuit open)")

// StatusError reports a non-success HTTP status from the upstream API.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("virustotal %s returned status %d", e.Operation, e.StatusCode)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}
