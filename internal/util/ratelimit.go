package util

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLimiterClosed is returned by Acquire once the limiter has been closed.
var ErrLimiterClosed = errors.New("rate limiter closed")

// IntervalLimiter grants at most one permit per interval. The first permit
// is granted immediately; each later permit waits until interval has passed
// since the previous grant.
type IntervalLimiter struct {
	interval time.Duration

	mu      sync.Mutex
	last    time.Time
	granted bool
	done    chan struct{}
	once    sync.Once
}

// NewIntervalLimiter creates a limiter with the given minimum spacing between
// permits. A non-positive interval never blocks.
func NewIntervalLimiter(interval time.Duration) *IntervalLimiter {
	return &IntervalLimiter{
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Interval returns the configured spacing between permits.
func (l *IntervalLimiter) Interval() time.Duration { return l.interval }

// Acquire blocks until a permit is available, the context is cancelled, or
// the limiter is closed.
func (l *IntervalLimiter) Acquire(ctx context.Context) error {
	// The mutex is held across the wait so that callers are served in order.
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.done:
		return ErrLimiterClosed
	default:
	}

	if l.granted {
		if wait := time.Until(l.last.Add(l.interval)); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.done:
				return ErrLimiterClosed
			case <-timer.C:
			}
		}
	}

	l.last = time.Now()
	l.granted = true
	return nil
}

// Close releases the limiter. Pending and future Acquire calls return
// ErrLimiterClosed. Close is safe to call more than once.
func (l *IntervalLimiter) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
