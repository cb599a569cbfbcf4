package auth

import (
	"context"
	"time"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

/*
AccountRepo
-----------
Persistence port for the role-partitioned account sets.
Only describes WHAT the service needs, not HOW it's stored.
*/
type AccountRepo interface {
	GetByEmail(ctx context.Context, role domain.Role, email string) (domain.Account, error)
	GetByID(ctx context.Context, role domain.Role, id string) (domain.Account, error)
	GetByEmployeeID(ctx context.Context, employeeID string) (domain.Account, error)
	// Create fails with ErrAccountAlreadyExists on a uniqueness violation.
	Create(ctx context.Context, a domain.Account) (domain.Account, error)
	UpdatePasswordHash(ctx context.Context, role domain.Role, accountID string, newHash string) error
}

/*
PendingStore
------------
The shared pending-verification set, keyed by email.
*/
type PendingStore interface {
	// Replace removes every record for p.Email and stores p, atomically.
	Replace(ctx context.Context, p domain.PendingVerification) error
	// Find matches on the exact (email, otp) pair; ErrPendingNotFound otherwise.
	Find(ctx context.Context, email, otp string) (domain.PendingVerification, error)
	// Delete removes the record only while it still carries otp.
	Delete(ctx context.Context, email, otp string) error
	// RecordMiss bumps the wrong-code counter of the email's record and
	// returns the new count; ErrPendingNotFound when there is no record.
	RecordMiss(ctx context.Context, email string) (int, error)
}

// PendingReaper is implemented by pending stores without native expiry.
type PendingReaper interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

/*
ResetGrantStore
---------------
Single-use reset authorizations issued after a reset code verifies.
*/
type ResetGrant struct {
	Role      domain.Role
	AccountID string
	Email     string
}

type ResetGrantStore interface {
	Save(ctx context.Context, token string, grant ResetGrant, ttl time.Duration) error
	// Consume returns the grant and deletes it; ErrResetTokenInvalid if absent.
	Consume(ctx context.Context, token string) (ResetGrant, error)
}

/*
EmailLocker
-----------
Per-email mutual exclusion around issuance and verification.
*/
type EmailLocker interface {
	Lock(ctx context.Context, email string, ttl time.Duration) (unlock func(), err error)
}

/*
PasswordHasher
--------------
Abstracts bcrypt.
*/
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash string, password string) error // nil if match
}

// CodeGenerator produces the numeric one-time codes.
type CodeGenerator interface {
	NewCode() (string, error)
}

/*
Mailer
------
The email collaborator. Send must not return before the message is handed
off (SMTP accepted it, or the broker confirmed it).
*/
type Mail struct {
	To      string
	Subject string
	Body    string
	Role    domain.Role
	Purpose domain.Purpose
}

type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

/*
TokenSigner
-----------
Issues and verifies access tokens after login.
*/
type TokenClaims struct {
	AccountID string
	Role      string
	Exp       time.Time
}

type TokenSigner interface {
	SignAccessToken(accountID string, role string, ttl time.Duration) (string, error)
	VerifyAccessToken(token string) (TokenClaims, error)
}
