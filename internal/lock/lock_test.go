package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/neilotoole/slogt"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertMutualExclusion(t *testing.T, l Locker) {
	t.Helper()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "txn-1", func(context.Context) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}

func TestLocalMutualExclusion(t *testing.T) {
	l := NewLocal()
	assertMutualExclusion(t, l)
	assert.Empty(t, l.locks)
}

func TestLocalDifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	done := make(chan struct{})

	err := l.WithLock(context.Background(), "a", func(ctx context.Context) error {
		go func() {
			_ = l.WithLock(ctx, "b", func(context.Context) error { return nil })
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-time.After(time.Second):
			return context.DeadlineExceeded
		}
	})

	assert.NoError(t, err)
}

func TestLocalHonoursContext(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.WithLock(context.Background(), "k", func(context.Context) error {
		return l.WithLock(ctx, "k", func(context.Context) error { return nil })
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalRejectsEmptyKey(t *testing.T) {
	assert.ErrorIs(t, NewLocal().WithLock(context.Background(), " ", nil), ErrEmptyKey)
}

func newRedisLocker(t *testing.T) *Redis {
	t.Helper()
	l, _ := newRedisLockerWithServer(t, DefaultOptions().Expiry)
	return l
}

func newRedisLockerWithServer(t *testing.T, expiry time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts := DefaultOptions()
	opts.Expiry = expiry
	opts.RetryDelay = time.Millisecond
	opts.Tries = 1000
	return NewRedis(client, opts, slogt.New(t)), mr
}

func TestRedisMutualExclusion(t *testing.T) {
	assertMutualExclusion(t, newRedisLocker(t))
}

func TestRedisPropagatesError(t *testing.T) {
	l := newRedisLocker(t)
	boom := assert.AnError

	err := l.WithLock(context.Background(), "k", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	// lock was released
	err = l.WithLock(context.Background(), "k", func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestRedisExtendsLockWhileHeld(t *testing.T) {
	l, mr := newRedisLockerWithServer(t, 200*time.Millisecond)
	key := "lock:transaction:slow"

	err := l.WithLock(context.Background(), "slow", func(context.Context) error {
		mr.FastForward(150 * time.Millisecond)
		// long enough for at least one extension at half the expiry
		time.Sleep(250 * time.Millisecond)
		mr.FastForward(150 * time.Millisecond)

		assert.True(t, mr.Exists(key), "lock expired while its holder was still running")
		return nil
	})
	require.NoError(t, err)

	assert.False(t, mr.Exists(key))
}
