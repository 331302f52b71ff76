package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is used when the configured rate is not positive.
const DefaultInterval = 500 * time.Millisecond

// Limiter enforces a minimum spacing between outbound requests across every
// caller that shares it. A token bucket with a burst of one admits one
// request per interval; last records the most recently admitted slot.
type Limiter struct {
	interval time.Duration

	mu   sync.Mutex
	lim  *rate.Limiter
	last time.Time
}

// New returns a limiter allowing at most requestsPerSecond requests per second.
func New(requestsPerSecond float64) *Limiter {
	interval := DefaultInterval
	if requestsPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / requestsPerSecond)
	}
	return NewWithInterval(interval)
}

// NewWithInterval returns a limiter with an explicit minimum interval.
func NewWithInterval(interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Limiter{
		lim:      rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// WaitIfNeeded blocks until the minimum interval since the previous request
// has elapsed and records the new request time. The lock covers only the
// slot reservation; the wait itself happens outside it.
func (l *Limiter) WaitIfNeeded(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	now := time.Now()
	r := l.lim.ReserveN(now, 1)
	slot := now.Add(r.DelayFrom(now))
	prev := l.last
	l.last = slot
	l.mu.Unlock()

	delay := slot.Sub(now)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		r.Cancel()
		if l.last.Equal(slot) {
			l.last = prev
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Interval is the enforced minimum spacing.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Last returns the time slot of the most recently admitted request.
func (l *Limiter) Last() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
