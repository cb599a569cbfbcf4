package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/baechuer/chatdesk-auth/internal/domain"
	"github.com/baechuer/chatdesk-auth/internal/infrastructure/redis"
	"github.com/baechuer/chatdesk-auth/internal/logger"
)

type RateLimiter interface {
	AllowFixedWindow(ctx context.Context, key string, limit int, window time.Duration) (redis.Decision, error)
}

// FixedWindowConfig defines the configuration for a fixed-window rate limit.
type FixedWindowConfig struct {
	RouteKey string
	Limit    int
	Window   time.Duration
}

// RateLimitFixedWindow counts requests per route and caller in Redis.
// Limiter failures fail open.
func RateLimitFixedWindow(limiter RateLimiter, cfg FixedWindowConfig, writeErr WriteErrFunc) func(http.Handler) http.Handler {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.RouteKey == "" {
		cfg.RouteKey = "unknown"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || cfg.Limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			bucket := windowBucket(time.Now(), cfg.Window)
			key := fmt.Sprintf("rl:%s:%s:%d", cfg.RouteKey, accountOrIP(r), bucket)

			dec, err := limiter.AllowFixedWindow(r.Context(), key, cfg.Limit, cfg.Window)
			if err != nil {
				logger.WithCtx(r.Context()).Warn().Err(err).Str("route", cfg.RouteKey).Msg("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			if !dec.Allowed {
				if dec.RetryAfter > 0 {
					secs := int(dec.RetryAfter.Round(time.Second).Seconds())
					if secs < 1 {
						secs = 1
					}
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
				writeErr(w, r, domain.ErrRateLimited(cfg.RouteKey))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func windowBucket(now time.Time, window time.Duration) int64 {
	sec := int64(window.Seconds())
	if sec <= 0 {
		sec = 60
	}
	return now.Unix() / sec
}

// accountOrIP prefers the authenticated account; otherwise the client IP.
func accountOrIP(r *http.Request) string {
	if id, ok := AccountIDFromContext(r.Context()); ok && strings.TrimSpace(id) != "" {
		return "a:" + id
	}
	return "ip:" + clientIP(r)
}

// clientIP relies on chi's RealIP having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
