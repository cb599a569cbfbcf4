package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
)

// Sender performs the final SMTP hand-off.
type Sender interface {
	Send(ctx context.Context, m auth.Mail) error
}

type IdempotencyStore interface {
	// Seen returns true if key already marked as sent.
	Seen(ctx context.Context, key string) (bool, error)
	// MarkSent marks key as sent with TTL.
	MarkSent(ctx context.Context, key string, ttl time.Duration) error
}

type permanentMarker interface{ Permanent() bool }

// Service is the mail worker's handler: it sends each queued OTP mail at
// most once per message id.
type Service struct {
	sender Sender
	idem   IdempotencyStore // nil => disabled
	ttl    time.Duration
	lg     zerolog.Logger

	onResult func(purpose, outcome string)
}

func NewService(sender Sender, idem IdempotencyStore, ttl time.Duration, lg zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		sender:   sender,
		idem:     idem,
		ttl:      ttl,
		lg:       lg.With().Str("component", "notify_service").Logger(),
		onResult: func(string, string) {},
	}
}

// WithResultHook reports every outcome (sent, skipped, temporary, permanent).
func (s *Service) WithResultHook(fn func(purpose, outcome string)) *Service {
	if fn != nil {
		s.onResult = fn
	}
	return s
}

func (s *Service) HandleMail(ctx context.Context, messageID string, m auth.Mail) error {
	purpose := string(m.Purpose)
	key := ""
	if messageID != "" {
		key = "mail:sent:" + messageID
	}

	if s.idem != nil && key != "" {
		seen, err := s.idem.Seen(ctx, key)
		if err != nil {
			s.onResult(purpose, "temporary")
			return err
		}
		if seen {
			s.lg.Info().Str("message_id", messageID).Msg("idempotent skip (already sent)")
			s.onResult(purpose, "skipped")
			return nil
		}
	}

	if err := s.sender.Send(ctx, m); err != nil {
		if isNonRetriable(err) {
			s.onResult(purpose, "permanent")
		} else {
			s.onResult(purpose, "temporary")
		}
		return err
	}

	if s.idem != nil && key != "" {
		if err := s.idem.MarkSent(ctx, key, s.ttl); err != nil {
			s.lg.Warn().Err(err).Str("key", key).Msg("idempotency mark failed (send already succeeded)")
		}
	}

	s.lg.Info().Str("message_id", messageID).Str("purpose", purpose).Str("role", string(m.Role)).Msg("otp mail sent")
	s.onResult(purpose, "sent")
	return nil
}

func isNonRetriable(err error) bool {
	var pm permanentMarker
	return errors.As(err, &pm) && pm.Permanent()
}
