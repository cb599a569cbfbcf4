package redis

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

// expiryGrace keeps a record readable slightly past ExpiresAt so a late
// verify is answered as expired by the service rather than vanishing mid-call.
const expiryGrace = time.Minute

// PendingStore keeps one hash per email:
//
//	otp:pending:<email> -> {otp: <code>, data: <json PendingVerification>, attempts: <n>}
//
// The otp field lets compare-and-delete run server-side; attempts is bumped
// in place so a miss never rewrites data.
type PendingStore struct {
	rdb    *goredis.Client
	prefix string
}

func NewPendingStore(c *Client) *PendingStore {
	return &PendingStore{rdb: rdbOf(c), prefix: "otp:pending:"}
}

type pendingJSON struct {
	Email        string    `json:"email"`
	OTP          string    `json:"otp"`
	Purpose      string    `json:"purpose"`
	Role         string    `json:"role"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	Name         string    `json:"name,omitempty"`
	EmployeeID   string    `json:"employee_id,omitempty"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Verified     bool      `json:"verified"`
}

func (s *PendingStore) Replace(ctx context.Context, p domain.PendingVerification) error {
	if s.rdb == nil {
		return domain.ErrRedisUnavailable(errNotConfigured)
	}
	if p.Email == "" {
		return domain.ErrMissingField("email")
	}
	if p.OTP == "" {
		return domain.ErrMissingField("otp")
	}

	raw, err := json.Marshal(pendingJSON{
		Email:        p.Email,
		OTP:          p.OTP,
		Purpose:      string(p.Purpose),
		Role:         string(p.Role),
		ExpiresAt:    p.ExpiresAt.UTC(),
		CreatedAt:    p.CreatedAt.UTC(),
		Name:         p.Name,
		EmployeeID:   p.EmployeeID,
		PasswordHash: p.PasswordHash,
		Verified:     p.Verified,
	})
	if err != nil {
		return domain.ErrInternal(err)
	}

	key := s.key(p.Email)
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "otp", p.OTP, "data", raw)
		pipe.PExpireAt(ctx, key, p.ExpiresAt.Add(expiryGrace))
		return nil
	})
	if err != nil {
		return domain.ErrRedisUnavailable(err)
	}
	return nil
}

func (s *PendingStore) Find(ctx context.Context, email, otp string) (domain.PendingVerification, error) {
	if s.rdb == nil {
		return domain.PendingVerification{}, domain.ErrRedisUnavailable(errNotConfigured)
	}

	vals, err := s.rdb.HMGet(ctx, s.key(email), "otp", "data", "attempts").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.PendingVerification{}, domain.ErrPendingNotFound()
		}
		return domain.PendingVerification{}, domain.ErrRedisUnavailable(err)
	}
	stored, _ := vals[0].(string)
	data, _ := vals[1].(string)
	if stored == "" || data == "" {
		return domain.PendingVerification{}, domain.ErrPendingNotFound()
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(otp)) != 1 {
		return domain.PendingVerification{}, domain.ErrPendingNotFound()
	}

	var pj pendingJSON
	if err := json.Unmarshal([]byte(data), &pj); err != nil {
		return domain.PendingVerification{}, domain.ErrInternal(err)
	}
	attempts := 0
	if raw, ok := vals[2].(string); ok && raw != "" {
		if attempts, err = strconv.Atoi(raw); err != nil {
			return domain.PendingVerification{}, domain.ErrInternal(err)
		}
	}
	return domain.PendingVerification{
		Email:        pj.Email,
		OTP:          pj.OTP,
		Purpose:      domain.Purpose(pj.Purpose),
		Role:         domain.Role(pj.Role),
		ExpiresAt:    pj.ExpiresAt,
		CreatedAt:    pj.CreatedAt,
		Name:         pj.Name,
		EmployeeID:   pj.EmployeeID,
		PasswordHash: pj.PasswordHash,
		Attempts:     attempts,
		Verified:     pj.Verified,
	}, nil
}

// HINCRBY alone would resurrect an expired key without a TTL
const incrIfExists = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`

func (s *PendingStore) RecordMiss(ctx context.Context, email string) (int, error) {
	if s.rdb == nil {
		return 0, domain.ErrRedisUnavailable(errNotConfigured)
	}
	n, err := s.rdb.Eval(ctx, incrIfExists, []string{s.key(email)}).Int()
	if err != nil {
		return 0, domain.ErrRedisUnavailable(err)
	}
	if n < 0 {
		return 0, domain.ErrPendingNotFound()
	}
	return n, nil
}

// compare-and-delete: a record re-issued in between keeps its new code
const deleteIfOTP = `
local v = redis.call("HGET", KEYS[1], "otp")
if v == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

func (s *PendingStore) Delete(ctx context.Context, email, otp string) error {
	if s.rdb == nil {
		return domain.ErrRedisUnavailable(errNotConfigured)
	}
	if err := s.rdb.Eval(ctx, deleteIfOTP, []string{s.key(email)}, otp).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return domain.ErrRedisUnavailable(err)
	}
	return nil
}

func (s *PendingStore) key(email string) string {
	return s.prefix + email
}
