package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL drops a caller's bucket after this long without requests.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		IdleTTL:           10 * time.Minute,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitors holds one token bucket per caller. Idle buckets are swept lazily
// on access instead of by a background goroutine.
type visitors struct {
	mu        sync.Mutex
	byKey     map[string]*visitor
	cfg       RateLimitConfig
	lastSweep time.Time
	now       func() time.Time
}

func newVisitors(cfg RateLimitConfig) *visitors {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimitConfig().IdleTTL
	}
	return &visitors{
		byKey: make(map[string]*visitor),
		cfg:   cfg,
		now:   time.Now,
	}
}

func (v *visitors) get(key string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if now.Sub(v.lastSweep) > v.cfg.IdleTTL {
		for k, vis := range v.byKey {
			if now.Sub(vis.lastSeen) > v.cfg.IdleTTL {
				delete(v.byKey, k)
			}
		}
		v.lastSweep = now
	}

	vis, ok := v.byKey[key]
	if !ok {
		vis = &visitor{limiter: rate.NewLimiter(rate.Limit(v.cfg.RequestsPerSecond), v.cfg.BurstSize)}
		v.byKey[key] = vis
	}
	vis.lastSeen = now
	return vis.limiter
}

func (v *visitors) size() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.byKey)
}

// rateLimitKey buckets authenticated callers by user and everyone else by
// client IP.
func rateLimitKey(c echo.Context) string {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.RealIP()
}

// RateLimit returns a token bucket rate limiting middleware for the API.
// It must run after authentication so requests are keyed by user.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return rateLimit(newVisitors(cfg))
}

func rateLimit(store *visitors) echo.MiddlewareFunc {
	limit := strconv.FormatFloat(store.cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			res := store.get(rateLimitKey(c)).Reserve()
			delay := res.Delay()
			if res.OK() && delay == 0 {
				return next(c)
			}

			res.Cancel()
			h.Set("X-RateLimit-Remaining", "0")
			if res.OK() {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			}
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
	}
}
