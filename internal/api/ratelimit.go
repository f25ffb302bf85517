package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailtrack/internal/pkg/httputil"
	"github.com/ignite/mailtrack/internal/pkg/logger"
)

// Counts one request in the current window and sets the window's expiry on
// its first hit.
const fixedWindowLuaScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`

// RateLimiter is a per-key fixed-window counter in Redis.
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if window < time.Millisecond {
		window = time.Millisecond
	}
	return &RateLimiter{
		redis:  client,
		script: redis.NewScript(fixedWindowLuaScript),
		limit:  limit,
		window: window,
		prefix: "ratelimit:tracking",
		now:    time.Now,
	}
}

// Allow counts a hit for key and reports whether it is within the limit,
// plus how many hits remain in the current window.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	bucket := rl.now().UnixMilli() / rl.window.Milliseconds()
	redisKey := fmt.Sprintf("%s:%s:%d", rl.prefix, key, bucket)

	count, err := rl.script.Run(ctx, rl.redis, []string{redisKey}, rl.window.Milliseconds()).Int()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	remaining := rl.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.limit, remaining, nil
}

// Middleware rejects clients over the limit with 429. Redis failures let
// the request through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		allowed, remaining, err := rl.Allow(r.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", "ip", key, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
