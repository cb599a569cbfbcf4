package auth

import (
	"context"
	"strings"
	"time"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

type RegistrationRequest struct {
	Role            string
	Email           string
	Name            string
	Password        string
	ConfirmPassword string
	EmployeeID      string // employees only
}

// IssueResult acknowledges an issued code without revealing it.
type IssueResult struct {
	Email     string
	ExpiresAt time.Time
}

// IssueRegistrationOTP validates a signup, stages it as a pending
// verification and mails the code. All validation runs before anything is
// written, so a rejected request leaves no pending record and sends no mail.
func (s *Service) IssueRegistrationOTP(ctx context.Context, req RegistrationRequest) (IssueResult, error) {
	policy, err := s.policies.Get(req.Role)
	if err != nil {
		return IssueResult{}, err
	}

	email, err := normalizeAndCheckEmail(req.Email)
	if err != nil {
		return IssueResult{}, err
	}
	// domain before password: user-facing precedence
	if !policy.AllowsDomain(email) {
		return IssueResult{}, domain.ErrDomainNotAllowed(domain.EmailDomain(email))
	}
	if err := checkPassword("password", req.Password); err != nil {
		return IssueResult{}, err
	}
	if req.Password != req.ConfirmPassword {
		return IssueResult{}, domain.ErrPasswordMismatch()
	}

	employeeID := strings.TrimSpace(req.EmployeeID)
	if policy.Role == domain.RoleEmployee && employeeID == "" {
		return IssueResult{}, domain.ErrMissingField("employee_id")
	}
	if policy.Role != domain.RoleEmployee {
		employeeID = ""
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return IssueResult{}, domain.ErrHashFailed(err)
	}

	p := domain.PendingVerification{
		Email:        email,
		Purpose:      domain.PurposeRegistration,
		Role:         policy.Role,
		Name:         strings.TrimSpace(req.Name),
		EmployeeID:   employeeID,
		PasswordHash: hash,
	}
	return s.issue(ctx, policy, p, policy.RegistrationSubject)
}

// IssueResetOTP mails a reset code to an existing account of the role.
func (s *Service) IssueResetOTP(ctx context.Context, role, email string) (IssueResult, error) {
	policy, err := s.policies.Get(role)
	if err != nil {
		return IssueResult{}, err
	}
	email, err = normalizeAndCheckEmail(email)
	if err != nil {
		return IssueResult{}, err
	}

	if _, err := s.accounts.GetByEmail(ctx, policy.Role, email); err != nil {
		return IssueResult{}, err
	}

	p := domain.PendingVerification{
		Email:   email,
		Purpose: domain.PurposeReset,
		Role:    policy.Role,
	}
	return s.issue(ctx, policy, p, policy.ResetSubject)
}

// issue replaces the email's pending record with p and dispatches the code.
// A mail failure leaves the new record in place and is reported as
// ErrDeliveryFailed so the caller can retry.
func (s *Service) issue(ctx context.Context, policy domain.RolePolicy, p domain.PendingVerification, subject string) (IssueResult, error) {
	unlock, err := s.lockEmail(ctx, p.Email)
	if err != nil {
		return IssueResult{}, err
	}
	defer unlock()

	code, err := s.codes.NewCode()
	if err != nil {
		return IssueResult{}, domain.ErrRandomFailed(err)
	}

	now := s.now()
	p.OTP = code
	p.CreatedAt = now
	p.ExpiresAt = now.Add(s.otpTTL)
	p.Verified = false

	if err := s.pending.Replace(ctx, p); err != nil {
		return IssueResult{}, err
	}

	err = s.mailer.Send(ctx, Mail{
		To:      p.Email,
		Subject: subject,
		Body:    otpMailBody(code),
		Role:    policy.Role,
		Purpose: p.Purpose,
	})
	if err != nil {
		s.audit(ctx, "otp_delivery_failed", map[string]string{
			"role":    string(policy.Role),
			"purpose": string(p.Purpose),
			"email":   p.Email,
		})
		return IssueResult{}, domain.ErrDeliveryFailed(err)
	}

	s.audit(ctx, "otp_issued", map[string]string{
		"role":    string(policy.Role),
		"purpose": string(p.Purpose),
		"email":   p.Email,
	})
	return IssueResult{Email: p.Email, ExpiresAt: p.ExpiresAt}, nil
}
