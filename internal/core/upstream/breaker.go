package upstream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// NewBreaker builds the circuit breaker guarding upstream calls. It opens
// after maxFailures consecutive transport errors or 5xx responses and probes
// again once openTimeout has elapsed. Client errors (4xx) and caller
// cancellation do not count as failures.
func NewBreaker(name string, maxFailures int, openTimeout time.Duration) *gobreaker.CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	threshold := uint32(maxFailures)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isBreakerSuccess,
	}
	return gobreaker.NewCircuitBreaker(settings)
}

func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode < http.StatusInternalServerError
	}
	return false
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
