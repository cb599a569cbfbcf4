package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

// EmailLocker is a best-effort distributed mutex keyed by email. The lock
// expires after ttl even if the holder dies.
type EmailLocker struct {
	rdb    *goredis.Client
	prefix string
	wait   time.Duration
	poll   time.Duration
}

func NewEmailLocker(c *Client, wait time.Duration) *EmailLocker {
	if wait < 0 {
		wait = 0
	}
	return &EmailLocker{rdb: rdbOf(c), prefix: "otp:lock:", wait: wait, poll: 25 * time.Millisecond}
}

const releaseIfOwner = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

func (l *EmailLocker) Lock(ctx context.Context, email string, ttl time.Duration) (func(), error) {
	if l.rdb == nil {
		return nil, domain.ErrRedisUnavailable(errNotConfigured)
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}

	key := l.prefix + email
	owner := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, owner, ttl).Result()
		if err != nil {
			return nil, domain.ErrRedisUnavailable(err)
		}
		if ok {
			return func() {
				// own context: the request ctx may already be cancelled
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = l.rdb.Eval(rctx, releaseIfOwner, []string{key}, owner).Err()
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, domain.ErrRequestInProgress()
		}

		t := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
