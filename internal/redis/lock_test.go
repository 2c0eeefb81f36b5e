package redisclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-admission/internal/lock"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisLocker_ReleasesKeyAfterFn(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedisLocker(rdb, 5*time.Second, lock.Backoff{Base: time.Millisecond, Budget: 100 * time.Millisecond})

	err := l.WithLock(context.Background(), "doctor:d1:day:2026-10-19", func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:doctor:d1:day:2026-10-19"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:doctor:d1:day:2026-10-19"))
}

func TestRedisLocker_BusyWhenHeldElsewhere(t *testing.T) {
	mr, rdb := newTestRedis(t)
	require.NoError(t, mr.Set("lock:k", "someone-else"))

	l := NewRedisLocker(rdb, 5*time.Second, lock.Backoff{
		Base:   2 * time.Millisecond,
		Max:    5 * time.Millisecond,
		Budget: 30 * time.Millisecond,
	})

	called := false
	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	assert.False(t, called)

	// a foreign holder's key is never deleted by us
	v, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestRedisLocker_WaitsForRelease(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewRedisLocker(rdb, 5*time.Second, lock.Backoff{
		Base:   time.Millisecond,
		Max:    5 * time.Millisecond,
		Budget: 2 * time.Second,
	})

	var inside, overlap int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "k", func(ctx context.Context) error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), overlap)
}
