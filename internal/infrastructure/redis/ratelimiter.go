package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// FixedWindowLimiter counts hits per key in a window:
// INCR key; PEXPIRE on the first hit.
type FixedWindowLimiter struct {
	rdb *goredis.Client
}

func NewFixedWindowLimiter(c *Client) *FixedWindowLimiter {
	return &FixedWindowLimiter{rdb: rdbOf(c)}
}

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // 0 if allowed
	ResetAt    time.Time
	Count      int
}

const fixedWindow = `
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {c, ttl}
`

// AllowFixedWindow fails open when Redis is not configured.
func (l *FixedWindowLimiter) AllowFixedWindow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	if window < time.Millisecond {
		window = time.Minute
	}
	if l.rdb == nil {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	res, err := l.rdb.Eval(ctx, fixedWindow, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit redis eval: %w", err)
	}
	arr, ok := res.([]any)
	if !ok || len(arr) != 2 {
		return Decision{}, fmt.Errorf("ratelimit redis eval: unexpected result %T", res)
	}
	count, ok1 := arr[0].(int64)
	ttlMS, ok2 := arr[1].(int64)
	if !ok1 || !ok2 {
		return Decision{}, fmt.Errorf("ratelimit redis eval: unexpected element types")
	}
	ttl := time.Duration(ttlMS) * time.Millisecond

	d := Decision{
		Allowed:   int(count) <= limit,
		Limit:     limit,
		Remaining: max(0, limit-int(count)),
		Count:     int(count),
		ResetAt:   time.Now().Add(ttl),
	}
	if !d.Allowed {
		d.RetryAfter = window
		if ttl > 0 {
			d.RetryAfter = ttl
		}
	}
	return d, nil
}
