// Package lock defines the per-key mutual exclusion used to serialize
// read-modify-write regions, plus an in-process implementation.
package lock

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker runs fn while holding the lock for key. Implementations give up with
// ErrNotAcquired once their wait budget is spent.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Backoff is an exponential retry policy bounded by a total wait budget.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Budget time.Duration
}

// Delay returns the sleep before retry number attempt (0-based), jittered
// into [d/2, d].
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	d := base
	for i := 0; i < attempt && (b.Max <= 0 || d < b.Max); i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

// Retry calls try until it reports success, returns an error, or the budget
// runs out. Budget exhaustion yields ErrNotAcquired.
func (b Backoff) Retry(ctx context.Context, try func(ctx context.Context) (bool, error)) error {
	deadline := time.Now().Add(b.Budget)

	for attempt := 0; ; attempt++ {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		wait := b.Delay(attempt)
		if time.Now().Add(wait).After(deadline) {
			return ErrNotAcquired
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
