package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 10 * time.Minute

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter hands out one token bucket per key, created on first use.
// Settings passed on later calls for an existing key are ignored. Keys idle
// for longer than the idle TTL are dropped, so per-client keys do not pile up.
type Limiter struct {
	mu        sync.Mutex
	m         map[string]*entry
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func New() *Limiter {
	return &Limiter{
		m:    make(map[string]*entry),
		idle: defaultIdleTTL,
		now:  time.Now,
	}
}

func (l *Limiter) get(key string, perSec float64, burst int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle/2 {
		l.sweep(now)
	}

	e, ok := l.m[key]
	if !ok {
		limit := rate.Limit(perSec)
		if perSec <= 0 {
			limit = rate.Inf
		}
		if burst < 1 {
			burst = 1
		}
		e = &entry{lim: rate.NewLimiter(limit, burst)}
		l.m[key] = e
	}
	e.seen = now
	return e.lim
}

// sweep must be called with mu held.
func (l *Limiter) sweep(now time.Time) {
	for k, e := range l.m {
		if now.Sub(e.seen) > l.idle {
			delete(l.m, k)
		}
	}
	l.lastSweep = now
}

// Len counts tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// Allow reports whether a token for key is available right now.
func (l *Limiter) Allow(key string, perSec float64, burst int) bool {
	return l.get(key, perSec, burst).Allow()
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string, perSec float64, burst int) error {
	return l.get(key, perSec, burst).Wait(ctx)
}
