package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
	"github.com/baechuer/chatdesk-auth/internal/domain"
)

type ResetGrantStore struct {
	rdb    *goredis.Client
	prefix string
}

func NewResetGrantStore(c *Client) *ResetGrantStore {
	return &ResetGrantStore{rdb: rdbOf(c), prefix: "otp:grant:"}
}

type grantJSON struct {
	Role      string `json:"role"`
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
}

func (s *ResetGrantStore) Save(ctx context.Context, token string, g auth.ResetGrant, ttl time.Duration) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.ErrMissingField("token")
	}
	if g.AccountID == "" {
		return domain.ErrMissingField("account_id")
	}
	if ttl <= 0 {
		return domain.ErrMissingField("ttl")
	}
	if s.rdb == nil {
		return domain.ErrRedisUnavailable(errNotConfigured)
	}

	raw, err := json.Marshal(grantJSON{Role: string(g.Role), AccountID: g.AccountID, Email: g.Email})
	if err != nil {
		return domain.ErrInternal(err)
	}
	if err := s.rdb.Set(ctx, s.prefix+token, raw, ttl).Err(); err != nil {
		return domain.ErrRedisUnavailable(err)
	}
	return nil
}

// atomic GET + DEL
const consumeGrant = `
local v = redis.call("GET", KEYS[1])
if not v then
  return nil
end
redis.call("DEL", KEYS[1])
return v
`

func (s *ResetGrantStore) Consume(ctx context.Context, token string) (auth.ResetGrant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.ResetGrant{}, domain.ErrResetTokenInvalid()
	}
	if s.rdb == nil {
		return auth.ResetGrant{}, domain.ErrRedisUnavailable(errNotConfigured)
	}

	res, err := s.rdb.Eval(ctx, consumeGrant, []string{s.prefix + token}).Result()
	if errors.Is(err, goredis.Nil) || (err == nil && res == nil) {
		return auth.ResetGrant{}, domain.ErrResetTokenInvalid()
	}
	if err != nil {
		return auth.ResetGrant{}, domain.ErrRedisUnavailable(err)
	}

	raw, ok := res.(string)
	if !ok {
		return auth.ResetGrant{}, domain.ErrResetTokenInvalid()
	}
	var gj grantJSON
	if err := json.Unmarshal([]byte(raw), &gj); err != nil || gj.AccountID == "" {
		return auth.ResetGrant{}, domain.ErrResetTokenInvalid()
	}
	return auth.ResetGrant{Role: domain.Role(gj.Role), AccountID: gj.AccountID, Email: gj.Email}, nil
}
