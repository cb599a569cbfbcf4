package email

import (
	"context"
	"html"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
)

type SMTPSender struct {
	lg zerolog.Logger

	host     string
	port     int
	user     string
	pass     string
	from     string
	insecure bool

	timeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
	Insecure bool
}

func NewSMTPSender(cfg SMTPConfig, lg zerolog.Logger) *SMTPSender {
	return &SMTPSender{
		lg:       lg.With().Str("component", "smtp_sender").Logger(),
		host:     cfg.Host,
		port:     cfg.Port,
		user:     cfg.Username,
		pass:     cfg.Password,
		from:     cfg.From,
		insecure: cfg.Insecure,
		timeout:  cfg.Timeout,
	}
}

// Send delivers an OTP mail. It returns once the SMTP server accepted the
// message. Failures are TemporaryError or PermanentError.
func (s *SMTPSender) Send(ctx context.Context, m auth.Mail) error {
	return s.send(ctx, m.To, m.Subject, m.Body, renderOTPHTML(m.Subject, m.Body))
}

func (s *SMTPSender) send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	msg, err := s.buildMsg(to, subject, textBody, htmlBody)
	if err != nil {
		return err
	}

	tlsPolicy := mail.TLSMandatory
	if s.insecure {
		tlsPolicy = mail.TLSOpportunistic
	}

	opts := []mail.Option{
		mail.WithPort(s.port),
		mail.WithTLSPolicy(tlsPolicy),
	}
	if s.user != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(s.user), mail.WithPassword(s.pass))
	}

	c, err := mail.NewClient(s.host, opts...)
	if err != nil {
		return PermanentError{msg: "smtp client init failed: " + err.Error()}
	}

	s.lg.Debug().Str("host", s.host).Int("port", s.port).Str("subject", subject).Msg("attempting smtp send")
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		s.lg.Error().Err(err).Str("subject", subject).Msg("smtp send failed")
		return classify(err)
	}

	s.lg.Info().Str("subject", subject).Msg("smtp send ok")
	return nil
}

func (s *SMTPSender) buildMsg(to, subject, textBody, htmlBody string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return nil, PermanentError{msg: "invalid from address: " + err.Error()}
	}
	if err := m.To(to); err != nil {
		return nil, PermanentError{msg: "invalid to address: " + err.Error()}
	}
	m.Subject(subject)

	m.SetBodyString(mail.TypeTextPlain, textBody)
	if htmlBody != "" {
		m.AddAlternativeString(mail.TypeTextHTML, htmlBody)
	}
	return m, nil
}

func classify(err error) error {
	msg := err.Error()
	if containsAny(msg, "535", "5.7.8", "authentication", "Username and Password not accepted") {
		return PermanentError{msg: "smtp auth failed: " + msg}
	}
	if containsAny(msg, "550", "553", "5.1.1") {
		return PermanentError{msg: "smtp recipient rejected: " + msg}
	}
	return TemporaryError{msg: "smtp transient failure: " + msg}
}

func renderOTPHTML(title, body string) string {
	escTitle := html.EscapeString(title)
	escBody := html.EscapeString(body)

	return `<!doctype html>
<html>
  <body style="font-family:Arial,Helvetica,sans-serif; line-height:1.4;">
    <h2>` + escTitle + `</h2>
    <p style="font-size:18px; letter-spacing:2px;">` + escBody + `</p>
    <p style="color:#555; font-size:12px;">
      If you did not request this code, ignore this email.
    </p>
  </body>
</html>`
}

func containsAny(s string, subs ...string) bool {
	for _, x := range subs {
		if x != "" && strings.Contains(s, x) {
			return true
		}
	}
	return false
}
