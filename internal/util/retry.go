package util

import (
	"context"
	"time"
)

// Outcome tags the result of one attempt passed to Retry.
type Outcome int

const (
	// Done means the attempt succeeded and its value is final.
	Done Outcome = iota
	// Again means the attempt failed transiently and may be retried.
	Again
	// Stop means the attempt failed and must not be retried.
	Stop
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Again:
		return "again"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Retry calls fn up to maxAttempts times, sleeping delay between attempts
// that report Again. fn receives the 1-based attempt number. Retry returns
// the value and error of the last attempt together with its outcome; an
// outcome of Again therefore means the attempts were exhausted. Context
// cancellation between attempts is returned as a Stop outcome.
func Retry[T any](ctx context.Context, maxAttempts int, delay time.Duration, fn func(attempt int) (T, Outcome, error)) (T, Outcome, error) {
	var (
		val     T
		outcome = Again
		err     error
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		val, outcome, err = fn(attempt)
		if outcome != Again {
			return val, outcome, err
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts && delay > 0 {
			select {
			case <-ctx.Done():
				return val, Stop, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return val, outcome, err
}
