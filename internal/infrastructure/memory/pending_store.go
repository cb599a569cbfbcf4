package memory

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

// PendingStore holds at most one record per email.
type PendingStore struct {
	mu   sync.Mutex
	data map[string]domain.PendingVerification
}

func NewPendingStore() *PendingStore {
	return &PendingStore{data: make(map[string]domain.PendingVerification)}
}

func (s *PendingStore) Replace(ctx context.Context, p domain.PendingVerification) error {
	if p.Email == "" {
		return domain.ErrMissingField("email")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[p.Email] = p
	return nil
}

func (s *PendingStore) Find(ctx context.Context, email, otp string) (domain.PendingVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[email]
	if !ok || subtle.ConstantTimeCompare([]byte(p.OTP), []byte(otp)) != 1 {
		return domain.PendingVerification{}, domain.ErrPendingNotFound()
	}
	return p, nil
}

func (s *PendingStore) Delete(ctx context.Context, email, otp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.data[email]; ok && p.OTP == otp {
		delete(s.data, email)
	}
	return nil
}

func (s *PendingStore) RecordMiss(ctx context.Context, email string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[email]
	if !ok {
		return 0, domain.ErrPendingNotFound()
	}
	p.Attempts++
	s.data[email] = p
	return p.Attempts, nil
}

// PurgeExpired drops every record already past its expiry.
func (s *PendingStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for email, p := range s.data {
		if p.Expired(now) {
			delete(s.data, email)
			n++
		}
	}
	return n, nil
}

func (s *PendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
