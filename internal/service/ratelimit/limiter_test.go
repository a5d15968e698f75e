package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowIsPerKey(t *testing.T) {
	l := New()

	assert.True(t, l.Allow("coingecko", 0.001, 1))
	assert.False(t, l.Allow("coingecko", 0.001, 1))
	assert.True(t, l.Allow("glassnode", 0.001, 1))
}

func TestNonPositiveRateIsUnlimited(t *testing.T) {
	l := New()
	for i := 0; i < 50; i++ {
		assert.True(t, l.Allow("k", 0, 1))
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := New()
	assert.True(t, l.Allow("k", 0.001, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "k", 0.001, 1))
}

func TestIdleKeysAreDropped(t *testing.T) {
	l := New()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	l.idle = time.Minute

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		l.Allow(ip+":cycle", 0.1, 1)
	}
	assert.Equal(t, 3, l.Len())

	clock = clock.Add(30 * time.Second)
	l.Allow("10.0.0.1:cycle", 0.1, 1)
	assert.Equal(t, 3, l.Len(), "nothing idle long enough yet")

	clock = clock.Add(45 * time.Second)
	l.Allow("10.0.0.4:cycle", 0.1, 1)
	assert.Equal(t, 2, l.Len(), "only the recently used and the new key remain")
}

func TestActiveKeyKeepsItsBucket(t *testing.T) {
	l := New()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	l.idle = time.Minute

	assert.True(t, l.Allow("k", 0.001, 1))
	clock = clock.Add(50 * time.Second)
	assert.False(t, l.Allow("k", 0.001, 1), "bucket survives a sweep while in use")
}
