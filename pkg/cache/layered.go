package cache

import (
	"context"
	"time"
)

// LayeredStore reads through a memory L1 in front of a Redis L2.
// Locks always go to L2 so they hold across replicas.
type LayeredStore struct {
	l1 *MemoryStore
	l2 *RedisStore
}

func NewLayeredStore(l2 *RedisStore, opts ...MemoryOption) *LayeredStore {
	return &LayeredStore{l1: NewMemoryStore(opts...), l2: l2}
}

// Set writes Redis first, then memory.
func (ls *LayeredStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := ls.l2.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	return ls.l1.Set(ctx, key, value, expiration)
}

func (ls *LayeredStore) Get(ctx context.Context, key string, dest interface{}) error {
	if err := ls.l1.Get(ctx, key, dest); err == nil {
		return nil
	}
	if err := ls.l2.Get(ctx, key, dest); err != nil {
		return err
	}
	_ = ls.l1.Set(ctx, key, dest, 0)
	return nil
}

func (ls *LayeredStore) Delete(ctx context.Context, keys ...string) error {
	_ = ls.l1.Delete(ctx, keys...)
	return ls.l2.Delete(ctx, keys...)
}

func (ls *LayeredStore) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return ls.l2.TryLock(ctx, key, ttl)
}

func (ls *LayeredStore) Unlock(ctx context.Context, key string) error {
	return ls.l2.Unlock(ctx, key)
}

func (ls *LayeredStore) Close() error {
	_ = ls.l1.Close()
	return ls.l2.Close()
}
