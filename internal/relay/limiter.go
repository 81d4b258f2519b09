package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWindow is the quota window. It starts at a caller's first request.
const DefaultWindow = time.Minute

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per caller in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

func decide(count, limit int, ttl time.Duration) Decision {
	d := Decision{Allowed: count <= limit, Remaining: limit - count}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps windows in process memory. A janitor goroutine drops
// expired windows until Close is called.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewMemoryLimiter(limit int, win time.Duration) *MemoryLimiter {
	if win <= 0 {
		win = DefaultWindow
	}
	l := &MemoryLimiter{
		limit:   limit,
		window:  win,
		now:     time.Now,
		windows: make(map[string]*window),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.janitor()
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.window)}
		l.windows[key] = w
	}
	w.count++
	return decide(w.count, l.limit, w.resetAt.Sub(now)), nil
}

func (l *MemoryLimiter) janitor() {
	defer close(l.done)
	t := time.NewTicker(l.window)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			l.sweep()
		}
	}
}

func (l *MemoryLimiter) sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Close stops the janitor. It is safe to call more than once.
func (l *MemoryLimiter) Close() error {
	l.once.Do(func() { close(l.stop) })
	<-l.done
	return nil
}

// RedisLimiter shares windows across relay instances. The counter key
// expires with the window, so the first INCR of a caller opens it.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedisLimiter(client *redis.Client, limit int, win time.Duration) *RedisLimiter {
	if win <= 0 {
		win = DefaultWindow
	}
	return &RedisLimiter{client: client, limit: limit, window: win, prefix: "clinicdesk:relay:quota:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.prefix + key
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("relay quota incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("relay quota expire: %w", err)
		}
	}
	ttl, err := l.client.TTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("relay quota ttl: %w", err)
	}
	if ttl < 0 {
		// a crash between INCR and EXPIRE left the key without a TTL
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("relay quota expire: %w", err)
		}
		ttl = l.window
	}
	return decide(int(count), l.limit, ttl), nil
}
