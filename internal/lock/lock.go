// Package lock provides the mutual exclusion used around ledger updates when
// several dispatchers may run at once.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// ErrNotAcquired is returned by Wait when the lock stayed busy.
var ErrNotAcquired = eris.New("lock: not acquired")

// Lock is a single named lock held by one owner.
// A Lock value is for use by one goroutine.
type Lock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Locker creates locks for keys.
type Locker interface {
	New(key string) Lock
}

// LeaseStore persists expiring leases. The SQLite database implements it.
type LeaseStore interface {
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseLease(ctx context.Context, key, owner string) error
}

// NewLocker picks the backend: Redis when a client is given, the lease store
// otherwise.
func NewLocker(client *redis.Client, store LeaseStore, ttl time.Duration) Locker {
	if client != nil {
		return &RedisLocker{client: client, ttl: ttl}
	}
	return &LeaseLocker{store: store, ttl: ttl, now: time.Now}
}

// Wait polls Acquire until it succeeds, ctx ends or timeout elapses.
func Wait(ctx context.Context, l Lock, timeout, poll time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().Add(poll).After(deadline) {
			return ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// RedisLocker issues Redis SET NX locks.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func (r *RedisLocker) New(key string) Lock {
	return NewRedisLock(r.client, key, r.ttl)
}

// LeaseLocker issues locks backed by a LeaseStore.
type LeaseLocker struct {
	store LeaseStore
	ttl   time.Duration
	now   func() time.Time
}

func (l *LeaseLocker) New(key string) Lock {
	return &LeaseLock{store: l.store, key: key, owner: uuid.NewString(), ttl: l.ttl, now: l.now}
}

// LeaseLock is a lease row with an owner and an expiry. An expired lease can
// be taken over, so a crashed holder never blocks others for longer than ttl.
type LeaseLock struct {
	store LeaseStore
	key   string
	owner string
	ttl   time.Duration
	now   func() time.Time
}

func (l *LeaseLock) Acquire(ctx context.Context) (bool, error) {
	return l.store.AcquireLease(ctx, l.key, l.owner, l.ttl, l.now())
}

func (l *LeaseLock) Release(ctx context.Context) error {
	return l.store.ReleaseLease(ctx, l.key, l.owner)
}
