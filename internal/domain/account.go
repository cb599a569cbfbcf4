package domain

import (
	"strings"
	"time"
)

type Account struct {
	ID           string
	Role         Role
	Email        string
	Name         string
	EmployeeID   string // employees only
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Purpose separates signup codes from reset codes in the shared pending set.
type Purpose string

const (
	PurposeRegistration Purpose = "registration"
	PurposeReset        Purpose = "reset"
)

func ParsePurpose(s string) (Purpose, error) {
	switch Purpose(strings.TrimSpace(strings.ToLower(s))) {
	case PurposeRegistration:
		return PurposeRegistration, nil
	case PurposeReset:
		return PurposeReset, nil
	}
	return "", ErrInvalidField("purpose", "must be registration or reset")
}

// PendingVerification links an OTP to a not-yet-created account or to an
// in-progress password reset. Reset records carry no payload.
type PendingVerification struct {
	Email     string
	OTP       string
	Purpose   Purpose
	Role      Role
	ExpiresAt time.Time
	CreatedAt time.Time

	Name         string
	EmployeeID   string
	PasswordHash string

	// Attempts counts wrong codes submitted against this record.
	Attempts int

	// Written false; never consulted.
	Verified bool
}

// Expired reports whether the code is past its window. A code is still valid
// at exactly ExpiresAt.
func (p PendingVerification) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// NormalizeEmail is the single normalization rule: trim and lowercase, on
// every path that stores or compares an email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the part after the last '@', or "" when the address is
// malformed.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}
