package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

var ErrEmptyKey = errors.New("lock key must not be empty")

// Locker serializes work on a single key, such as a transaction id.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// Local is an in-process keyed mutex. Entries are dropped once no caller holds or waits on them.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}

	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	defer l.release(key, e)

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("failed to acquire lock %s: %w", key, ctx.Err())
	}
	defer func() { <-e.ch }()

	return fn(ctx)
}

func (l *Local) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// Options tune redsync mutexes.
type Options struct {
	Expiry      time.Duration
	Tries       int
	RetryDelay  time.Duration
	DriftFactor float64
}

func DefaultOptions() Options {
	return Options{
		Expiry:      60 * time.Second,
		Tries:       32,
		RetryDelay:  100 * time.Millisecond,
		DriftFactor: 0.01,
	}
}

// Redis is a distributed lock backed by redsync, usable across service replicas.
type Redis struct {
	rs     *redsync.Redsync
	opts   Options
	prefix string
	logger *slog.Logger
}

func NewRedis(client goredislib.UniversalClient, opts Options, logger *slog.Logger) *Redis {
	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		prefix: "lock:transaction:",
		logger: logger,
	}
}

func (r *Redis) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}

	mutex := r.rs.NewMutex(
		r.prefix+key,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(r.opts.Tries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
		redsync.WithDriftFactor(r.opts.DriftFactor),
	)

	if err := mutex.LockContext(ctx); err != nil {
		r.logger.Error("failed to acquire lock", "lock_key", key, "error", err)
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	defer func() {
		// the lock outlives a cancelled request context
		unlockCtx := context.WithoutCancel(ctx)
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			r.logger.Error("failed to release lock", "lock_key", key, "unlock_ok", ok, "error", err)
		}
	}()
	defer r.keepAlive(context.WithoutCancel(ctx), mutex, key)()

	return fn(ctx)
}

// keepAlive extends mutex every half expiry until the returned stop func is called, so a
// slow fn does not lose the lock to another replica.
func (r *Redis) keepAlive(ctx context.Context, mutex *redsync.Mutex, key string) (stop func()) {
	interval := r.opts.Expiry / 2
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if ok, err := mutex.ExtendContext(ctx); !ok || err != nil {
					r.logger.Warn("failed to extend lock", "lock_key", key, "extend_ok", ok, "error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}
