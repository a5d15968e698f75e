package marketdata

import (
	"context"
	"errors"
	"time"

	"Treasury/internal/domain/models"
	"Treasury/internal/domain/repository"
	"Treasury/pkg/cache"
	"Treasury/pkg/logger"

	"golang.org/x/sync/singleflight"
)

const storeTimeout = time.Second

// Cache sits in front of every market data source. It keeps the last good
// value per source in a cache.Store and serves it stale when a refresh fails.
type Cache struct {
	store     cache.Store
	group     singleflight.Group
	retention time.Duration
	now       func() time.Time
	log       *logger.Logger
	metrics   repository.Metrics
}

type CacheOption func(*Cache)

// WithRetention bounds how long a last good value may be served stale.
func WithRetention(d time.Duration) CacheOption {
	return func(c *Cache) {
		c.retention = d
	}
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

func NewCache(store cache.Store, l *logger.Logger, m repository.Metrics, opts ...CacheOption) *Cache {
	c := &Cache{
		store:     store,
		retention: 24 * time.Hour,
		now:       time.Now,
		log:       l.With(logger.String("component", "market_cache")),
		metrics:   m,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchSpec describes one cached source read.
type FetchSpec[T any] struct {
	Key     string
	TTL     time.Duration
	Timeout time.Duration
	Fetch   func(ctx context.Context) (T, error)
	// Default is served when nothing was ever fetched. Nil means absent.
	Default *T
}

type Result[T any] struct {
	Value     T
	Status    models.FieldStatus
	FetchedAt time.Time
	Err       error
}

func (r Result[T]) Present() bool { return r.Status != models.StatusAbsent }

// Stale is true for anything that was not fetched within its TTL.
func (r Result[T]) Stale() bool {
	return r.Status == models.StatusStale || r.Status == models.StatusDefault
}

func (r Result[T]) Provenance() models.Provenance {
	p := models.Provenance{Status: r.Status, FetchedAt: r.FetchedAt}
	if r.Err != nil {
		p.Error = r.Err.Error()
	}
	return p
}

type entry[T any] struct {
	Value     T         `json:"value"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fetch returns a value younger than spec.TTL, otherwise refreshes it under
// spec.Timeout. Concurrent callers for one key share a single refresh. A caller
// whose ctx ends first falls back without waiting for the shared refresh.
func Fetch[T any](ctx context.Context, c *Cache, spec FetchSpec[T]) Result[T] {
	start := time.Now()
	key := cache.GenerateKey("market", spec.Key)

	last, haveLast := lastGood[T](ctx, c, key)
	if haveLast && c.now().Sub(last.FetchedAt) < spec.TTL {
		return record(c, spec.Key, start, Result[T]{Value: last.Value, Status: models.StatusFresh, FetchedAt: last.FetchedAt})
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// detached so one caller giving up does not cancel the fetch for the others
		fctx, cancel := context.WithTimeout(context.Background(), spec.Timeout)
		defer cancel()

		v, err := spec.Fetch(fctx)
		if err != nil {
			return nil, err
		}
		e := entry[T]{Value: v, FetchedAt: c.now()}

		sctx, scancel := context.WithTimeout(context.Background(), storeTimeout)
		defer scancel()
		if err := c.store.Set(sctx, key, e, c.retention); err != nil {
			c.log.Warn("market cache write failed", logger.String("key", key), logger.Error(err))
		}
		return e, nil
	})

	var err error
	select {
	case r := <-ch:
		if r.Err == nil {
			e := r.Val.(entry[T])
			return record(c, spec.Key, start, Result[T]{Value: e.Value, Status: models.StatusFresh, FetchedAt: e.FetchedAt})
		}
		err = r.Err
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.log.Warn("source unavailable",
		logger.String("source", spec.Key),
		logger.Bool("have_last_good", haveLast),
		logger.Error(err),
	)

	if haveLast {
		return record(c, spec.Key, start, Result[T]{Value: last.Value, Status: models.StatusStale, FetchedAt: last.FetchedAt, Err: err})
	}
	if spec.Default != nil {
		return record(c, spec.Key, start, Result[T]{Value: *spec.Default, Status: models.StatusDefault, Err: err})
	}
	return record(c, spec.Key, start, Result[T]{Status: models.StatusAbsent, Err: err})
}

func lastGood[T any](ctx context.Context, c *Cache, key string) (entry[T], bool) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	var e entry[T]
	err := c.store.Get(sctx, key, &e)
	switch {
	case err == nil:
		if c.now().Sub(e.FetchedAt) > c.retention {
			return e, false
		}
		return e, true
	case !errors.Is(err, cache.ErrCacheMiss):
		c.log.Warn("market cache read failed", logger.String("key", key), logger.Error(err))
	}
	return e, false
}

func record[T any](c *Cache, source string, start time.Time, r Result[T]) Result[T] {
	if c.metrics != nil {
		c.metrics.RecordSourceFetch(source, r.Status, time.Since(start).Seconds())
	}
	return r
}
