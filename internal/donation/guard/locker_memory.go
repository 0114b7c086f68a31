package guard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type lease struct {
	token     string
	expiresAt time.Time
}

// InMemoryLocker is a single-process Locker.
type InMemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	clock  func() time.Time
}

// InMemoryLockerOption configures an InMemoryLocker.
type InMemoryLockerOption func(*InMemoryLocker)

// WithLockerClock overrides the time source used for lease expiry.
func WithLockerClock(clock func() time.Time) InMemoryLockerOption {
	return func(l *InMemoryLocker) {
		l.clock = clock
	}
}

func NewInMemoryLocker(opts ...InMemoryLockerOption) *InMemoryLocker {
	l := &InMemoryLocker{
		leases: make(map[string]lease),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *InMemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if held, ok := l.leases[key]; ok && now.Before(held.expiresAt) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.leases[key]; ok && held.token == token {
			delete(l.leases, key)
		}
		return nil
	}
	return release, true, nil
}
