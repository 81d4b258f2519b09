package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemoryLimiter_ThirtyFirstRequestRejected(t *testing.T) {
	l := NewMemoryLimiter(30, time.Minute)
	defer l.Close()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	l.now = clock.now

	ctx := context.Background()
	for i := 1; i <= 30; i++ {
		d, err := l.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 30-i, d.Remaining)
		clock.advance(time.Second)
	}

	d, err := l.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter, "window runs from the first request")

	other, err := l.Allow(ctx, "198.51.100.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "quotas are per caller")

	clock.advance(30 * time.Second)
	d, err = l.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a new window opens once the old one ends")
}

func TestMemoryLimiter_SweepDropsExpiredWindows(t *testing.T) {
	l := NewMemoryLimiter(5, time.Minute)
	defer l.Close()
	clock := &fakeClock{t: time.Now()}
	l.now = clock.now

	_, _ = l.Allow(context.Background(), "a")
	clock.advance(30 * time.Second)
	_, _ = l.Allow(context.Background(), "b")
	clock.advance(31 * time.Second)

	l.sweep()
	assert.Equal(t, 1, l.size())
}

func TestMemoryLimiter_CloseIsIdempotent(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func newRedisLimiter(t *testing.T, limit int) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client, limit, time.Minute), mr
}

func TestRedisLimiter_ThirtyFirstRequestRejected(t *testing.T) {
	l, mr := newRedisLimiter(t, 30)
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		d, err := l.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
	}
	d, err := l.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)

	mr.FastForward(61 * time.Second)
	d, err = l.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_RepairsMissingTTL(t *testing.T) {
	l, mr := newRedisLimiter(t, 30)
	require.NoError(t, mr.Set(l.prefix+"203.0.113.7", "4"))

	d, err := l.Allow(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 25, d.Remaining)
	assert.Equal(t, time.Minute, mr.TTL(l.prefix+"203.0.113.7"))
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	l, mr := newRedisLimiter(t, 30)
	mr.Close()

	_, err := l.Allow(context.Background(), "203.0.113.7")
	assert.Error(t, err)
}
