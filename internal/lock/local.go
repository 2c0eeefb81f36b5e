package lock

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process keyed mutex for single-instance deployments and tests.
// Entries are reference counted so idle keys do not accumulate.
type Local struct {
	mu     sync.Mutex
	slots  map[string]*slot
	budget time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal returns a Local whose waiters give up after budget.
func NewLocal(budget time.Duration) *Local {
	return &Local{
		slots:  make(map[string]*slot),
		budget: budget,
	}
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s := l.ref(key)
	defer l.unref(key, s)

	timer := time.NewTimer(l.budget)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
	case <-timer.C:
		return ErrNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.ch }()

	return fn(ctx)
}

func (l *Local) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
