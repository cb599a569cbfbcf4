package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

type Service struct {
	accounts AccountRepo
	pending  PendingStore
	grants   ResetGrantStore
	locker   EmailLocker
	hasher   PasswordHasher
	codes    CodeGenerator
	mailer   Mailer
	signer   TokenSigner

	policies  domain.Policies
	otpTTL    time.Duration
	grantTTL  time.Duration
	lockTTL   time.Duration
	accessTTL time.Duration

	maxAttempts int

	now   func() time.Time
	audit func(ctx context.Context, action string, fields map[string]string)
}

type Config struct {
	Policies      domain.Policies
	OTPTTL        time.Duration
	ResetGrantTTL time.Duration
	LockTTL       time.Duration
	AccessTTL     time.Duration
	// MaxOTPAttempts wrong codes burn the pending record.
	MaxOTPAttempts int
}

func NewService(
	accounts AccountRepo,
	pending PendingStore,
	grants ResetGrantStore,
	locker EmailLocker,
	hasher PasswordHasher,
	codes CodeGenerator,
	mailer Mailer,
	cfg Config,
) *Service {
	policies := cfg.Policies
	if policies == nil {
		policies = domain.DefaultPolicies("")
	}
	otpTTL := cfg.OTPTTL
	if otpTTL <= 0 {
		otpTTL = 10 * time.Minute
	}
	grantTTL := cfg.ResetGrantTTL
	if grantTTL <= 0 {
		grantTTL = 10 * time.Minute
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	maxAttempts := cfg.MaxOTPAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	return &Service{
		accounts: accounts,
		pending:  pending,
		grants:   grants,
		locker:   locker,
		hasher:   hasher,
		codes:    codes,
		mailer:   mailer,

		policies:  policies,
		otpTTL:    otpTTL,
		grantTTL:  grantTTL,
		lockTTL:   lockTTL,
		accessTTL: accessTTL,

		maxAttempts: maxAttempts,

		now:   time.Now,
		audit: func(context.Context, string, map[string]string) {},
	}
}

func (s *Service) WithAudit(fn func(ctx context.Context, action string, fields map[string]string)) *Service {
	if fn != nil {
		s.audit = fn
	}
	return s
}

// WithSigner enables access-token issuance on login.
func (s *Service) WithSigner(signer TokenSigner) *Service {
	s.signer = signer
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) Policies() domain.Policies { return s.policies }

// lockEmail serializes issuance and verification for one email.
func (s *Service) lockEmail(ctx context.Context, email string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Lock(ctx, email, s.lockTTL)
}

// newOpaqueToken returns a URL-safe opaque token.
func newOpaqueToken(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		return "", errors.New("invalid token length")
	}
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
