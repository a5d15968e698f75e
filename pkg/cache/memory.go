package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time
	accessed time.Time
}

func (m *memoryItem) expired(now time.Time) bool {
	return now.After(m.expireAt)
}

// MemoryStore is an in-process Store with TTL expiry and LRU eviction.
type MemoryStore struct {
	mutex      sync.Mutex
	items      map[string]*memoryItem
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
		DefaultTTL:      7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ms := &MemoryStore{
		items:      make(map[string]*memoryItem),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go ms.cleanupLoop(cfg.CleanupInterval)
	return ms
}

func (ms *MemoryStore) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if expiration <= 0 {
		expiration = ms.defaultTTL
	}

	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	now := ms.now()
	if _, exists := ms.items[key]; !exists && len(ms.items) >= ms.maxSize {
		ms.evictLRU()
	}
	ms.items[key] = &memoryItem{data: data, expireAt: now.Add(expiration), accessed: now}
	return nil
}

func (ms *MemoryStore) Get(_ context.Context, key string, dest interface{}) error {
	ms.mutex.Lock()
	item, ok := ms.items[key]
	now := ms.now()
	if ok && item.expired(now) {
		delete(ms.items, key)
		ok = false
	}
	if !ok {
		ms.mutex.Unlock()
		return ErrCacheMiss
	}
	item.accessed = now
	data := item.data
	ms.mutex.Unlock()

	return json.Unmarshal(data, dest)
}

func (ms *MemoryStore) Delete(_ context.Context, keys ...string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	for _, key := range keys {
		delete(ms.items, key)
	}
	return nil
}

func (ms *MemoryStore) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	now := ms.now()
	if item, ok := ms.items[key]; ok && !item.expired(now) {
		return false, nil
	}
	ms.items[key] = &memoryItem{data: []byte(`"locked"`), expireAt: now.Add(ttl), accessed: now}
	return true, nil
}

func (ms *MemoryStore) Unlock(ctx context.Context, key string) error {
	return ms.Delete(ctx, key)
}

// Len counts stored entries; expired ones stay until the next cleanup pass.
func (ms *MemoryStore) Len() int {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	return len(ms.items)
}

func (ms *MemoryStore) evictLRU() {
	var oldestKey string
	var oldest time.Time
	for key, item := range ms.items {
		if oldestKey == "" || item.accessed.Before(oldest) {
			oldestKey, oldest = key, item.accessed
		}
	}
	if oldestKey != "" {
		delete(ms.items, oldestKey)
	}
}

func (ms *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.mutex.Lock()
			now := ms.now()
			for key, item := range ms.items {
				if item.expired(now) {
					delete(ms.items, key)
				}
			}
			ms.mutex.Unlock()
		case <-ms.stop:
			return
		}
	}
}

// Close stops the cleanup loop.
func (ms *MemoryStore) Close() error {
	ms.stopOnce.Do(func() { close(ms.stop) })
	return nil
}
