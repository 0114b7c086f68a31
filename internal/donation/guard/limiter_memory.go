package guard

import (
	"context"
	"sync"
	"time"
)

type failureWindow struct {
	count   int
	resetAt time.Time
}

// InMemoryAttemptLimiter is a single-process fixed-window AttemptLimiter.
// The window opens at the first failure.
type InMemoryAttemptLimiter struct {
	mu       sync.Mutex
	windows  map[string]*failureWindow
	max      int
	duration time.Duration
	clock    func() time.Time
}

// InMemoryAttemptLimiterOption configures an InMemoryAttemptLimiter.
type InMemoryAttemptLimiterOption func(*InMemoryAttemptLimiter)

// WithLimiterClock overrides the time source used for window expiry.
func WithLimiterClock(clock func() time.Time) InMemoryAttemptLimiterOption {
	return func(l *InMemoryAttemptLimiter) {
		l.clock = clock
	}
}

func NewInMemoryAttemptLimiter(maxFailures int, window time.Duration, opts ...InMemoryAttemptLimiterOption) *InMemoryAttemptLimiter {
	l := &InMemoryAttemptLimiter{
		windows:  make(map[string]*failureWindow),
		max:      maxFailures,
		duration: window,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *InMemoryAttemptLimiter) Allowed(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.current(key)
	return w == nil || w.count < l.max, nil
}

func (l *InMemoryAttemptLimiter) RecordFailure(_ context.Context, key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.current(key)
	if w == nil {
		w = &failureWindow{resetAt: l.clock().Add(l.duration)}
		l.windows[key] = w
	}
	w.count++
	return w.count, nil
}

// current returns the live window for key, dropping an elapsed one.
// Must be called while holding l.mu.
func (l *InMemoryAttemptLimiter) current(key string) *failureWindow {
	w, ok := l.windows[key]
	if !ok {
		return nil
	}
	if !l.clock().Before(w.resetAt) {
		delete(l.windows, key)
		return nil
	}
	return w
}
