package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultLeaseTTL = 10 * time.Minute

// ErrLockLost is returned by Lease.Release when the key expired during the
// cycle. Another instance may have run jobs concurrently.
var ErrLockLost = errors.New("cron lease expired before release")

// Locker hands out at most one live lease cluster-wide. TryAcquire returns a
// nil lease when another instance holds it.
type Locker interface {
	TryAcquire(ctx context.Context) (*Lease, error)
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// RedisLock leases one Redis key. Each lease writes its own token so a late
// release cannot delete a lease granted to someone else after expiry.
type RedisLock struct {
	store leaseStore
	key   string
	ttl   time.Duration
}

func NewRedisLock(store leaseStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("cron lock: store required")
	case key == "":
		return nil, errors.New("cron lock: key required")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) TryAcquire(ctx context.Context) (*Lease, error) {
	token := uuid.NewString()
	granted, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("cron lock %s: %w", l.key, err)
	}
	if !granted {
		return nil, nil
	}
	return &Lease{store: l.store, key: l.key, token: token}, nil
}

type Lease struct {
	store    leaseStore
	key      string
	token    string
	released bool
}

// Release is idempotent; only the first call touches Redis.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	deleted, err := l.store.CompareAndDelete(ctx, l.key, l.token)
	if err != nil {
		return fmt.Errorf("cron lock %s release: %w", l.key, err)
	}
	if !deleted {
		return ErrLockLost
	}
	return nil
}
