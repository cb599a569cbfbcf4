package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
)

// FakeSender is a development sender for the mail worker.
//
// FailMode:
// - "none" (default): always succeed
// - "transient": return a TemporaryError
// - "permanent": return a PermanentError
type FakeSender struct {
	lg       zerolog.Logger
	failMode string
}

func NewFakeSender(failMode string, lg zerolog.Logger) *FakeSender {
	return &FakeSender{
		lg:       lg.With().Str("component", "fake_sender").Logger(),
		failMode: strings.TrimSpace(strings.ToLower(failMode)),
	}
}

func (s *FakeSender) Send(ctx context.Context, m auth.Mail) error {
	s.lg.Info().
		Str("to", m.To).
		Str("subject", m.Subject).
		Str("purpose", string(m.Purpose)).
		Msg("FAKE send otp mail")

	switch s.failMode {
	case "transient":
		return TemporaryError{msg: fmt.Sprintf("fake transient failure (%s)", m.Purpose)}
	case "permanent":
		return PermanentError{msg: fmt.Sprintf("fake permanent failure (%s)", m.Purpose)}
	default:
		return nil
	}
}
