package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// IdempotencyStore remembers which queued mails were already delivered so a
// redelivered message is not mailed twice.
type IdempotencyStore struct {
	rdb *goredis.Client
}

func NewIdempotencyStore(c *Client) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdbOf(c)}
}

func (s *IdempotencyStore) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("empty key")
	}
	if s.rdb == nil {
		return false, errNotConfigured
	}
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *IdempotencyStore) MarkSent(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if s.rdb == nil {
		return errNotConfigured
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return s.rdb.Set(ctx, key, "1", ttl).Err()
}
