package rabbitmq

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
	"github.com/baechuer/chatdesk-auth/internal/domain"
)

const (
	rkRegistration = "auth.otp.registration"
	rkReset        = "auth.otp.reset"

	// DefaultBindKey matches every OTP mail routing key.
	DefaultBindKey = "auth.otp.#"
)

// MailMessage is the queued form of an OTP mail.
type MailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Role    string `json:"role"`
	Purpose string `json:"purpose"`
}

func routingKeyFor(p domain.Purpose) string {
	if p == domain.PurposeReset {
		return rkReset
	}
	return rkRegistration
}

func encodeMail(m auth.Mail) ([]byte, error) {
	return json.Marshal(MailMessage{
		To:      m.To,
		Subject: m.Subject,
		Body:    m.Body,
		Role:    string(m.Role),
		Purpose: string(m.Purpose),
	})
}

func decodeMail(body []byte) (auth.Mail, error) {
	var msg MailMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return auth.Mail{}, err
	}
	if strings.TrimSpace(msg.To) == "" || strings.TrimSpace(msg.Body) == "" {
		return auth.Mail{}, fmt.Errorf("mail message missing to/body")
	}
	return auth.Mail{
		To:      msg.To,
		Subject: msg.Subject,
		Body:    msg.Body,
		Role:    domain.Role(msg.Role),
		Purpose: domain.Purpose(msg.Purpose),
	}, nil
}
