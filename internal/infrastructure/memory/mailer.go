package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
)

// LogMailer writes OTP mails to the log instead of sending them. Dev only:
// the code is printed in clear.
type LogMailer struct {
	log zerolog.Logger

	mu   sync.Mutex
	sent []auth.Mail
}

func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log.With().Str("component", "log_mailer").Logger()}
}

func (m *LogMailer) Send(ctx context.Context, mail auth.Mail) error {
	m.mu.Lock()
	m.sent = append(m.sent, mail)
	m.mu.Unlock()

	m.log.Info().
		Str("to", mail.To).
		Str("subject", mail.Subject).
		Str("role", string(mail.Role)).
		Str("purpose", string(mail.Purpose)).
		Str("body", mail.Body).
		Msg("mail not sent (log transport)")
	return nil
}

// Sent returns a copy of every mail seen so far.
func (m *LogMailer) Sent() []auth.Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]auth.Mail(nil), m.sent...)
}
