package memory

import (
	"context"
	"sync"
	"time"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
	"github.com/baechuer/chatdesk-auth/internal/domain"
)

type grantEntry struct {
	grant     auth.ResetGrant
	expiresAt time.Time
}

type ResetGrantStore struct {
	mu   sync.Mutex
	data map[string]grantEntry
	now  func() time.Time
}

func NewResetGrantStore() *ResetGrantStore {
	return &ResetGrantStore{data: make(map[string]grantEntry), now: time.Now}
}

func (s *ResetGrantStore) Save(ctx context.Context, token string, g auth.ResetGrant, ttl time.Duration) error {
	if token == "" {
		return domain.ErrMissingField("token")
	}
	if ttl <= 0 {
		return domain.ErrMissingField("ttl")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.purgeLocked(now)
	s.data[token] = grantEntry{grant: g, expiresAt: now.Add(ttl)}
	return nil
}

func (s *ResetGrantStore) Consume(ctx context.Context, token string) (auth.ResetGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[token]
	if !ok {
		return auth.ResetGrant{}, domain.ErrResetTokenInvalid()
	}
	delete(s.data, token)
	if s.now().After(e.expiresAt) {
		return auth.ResetGrant{}, domain.ErrResetTokenInvalid()
	}
	return e.grant, nil
}

// PurgeExpired drops grants that expired without being consumed.
func (s *ResetGrantStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked(now), nil
}

func (s *ResetGrantStore) purgeLocked(now time.Time) int {
	n := 0
	for token, e := range s.data {
		if now.After(e.expiresAt) {
			delete(s.data, token)
			n++
		}
	}
	return n
}

func (s *ResetGrantStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
