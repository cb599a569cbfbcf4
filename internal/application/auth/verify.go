package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

// ResetAuthorization is the single-use permission to call ResetPassword.
type ResetAuthorization struct {
	Token     string
	ExpiresAt time.Time
}

// VerifyResult carries Account for registration and Reset for reset.
type VerifyResult struct {
	Purpose domain.Purpose
	Account *domain.Account
	Reset   *ResetAuthorization
}

// VerifyOTP checks a submitted code against the pending record for email.
// Registration codes promote the staged signup into the role's account set;
// reset codes are exchanged for a ResetAuthorization.
func (s *Service) VerifyOTP(ctx context.Context, purpose, role, email, otp string) (VerifyResult, error) {
	pur, err := domain.ParsePurpose(purpose)
	if err != nil {
		return VerifyResult{}, err
	}
	policy, err := s.policies.Get(role)
	if err != nil {
		return VerifyResult{}, err
	}
	email, err = normalizeAndCheckEmail(email)
	if err != nil {
		return VerifyResult{}, err
	}
	if err := checkOTPFormat(otp); err != nil {
		return VerifyResult{}, err
	}

	unlock, err := s.lockEmail(ctx, email)
	if err != nil {
		return VerifyResult{}, err
	}
	defer unlock()

	p, err := s.pending.Find(ctx, email, otp)
	if err != nil {
		if domain.Is(err, "pending_not_found") {
			s.recordMiss(ctx, policy, pur, email)
			return VerifyResult{}, domain.ErrOTPInvalidOrExpired()
		}
		return VerifyResult{}, err
	}
	// too many wrong guesses burn the record, right code or not
	if p.Attempts >= s.maxAttempts {
		_ = s.pending.Delete(ctx, p.Email, p.OTP)
		return VerifyResult{}, domain.ErrOTPInvalidOrExpired()
	}
	// a code only verifies the flow it was issued for
	if p.Purpose != pur || p.Role != policy.Role || p.Expired(s.now()) {
		return VerifyResult{}, domain.ErrOTPInvalidOrExpired()
	}

	switch pur {
	case domain.PurposeRegistration:
		acc, err := s.completeRegistration(ctx, policy, p)
		if err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Purpose: pur, Account: &acc}, nil
	default:
		auth, err := s.authorizeReset(ctx, policy, p)
		if err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Purpose: pur, Reset: &auth}, nil
	}
}

// recordMiss counts a wrong code against the email's live record. The
// caller already answers otp_invalid_or_expired, so store errors only reach
// the audit log.
func (s *Service) recordMiss(ctx context.Context, policy domain.RolePolicy, pur domain.Purpose, email string) {
	n, err := s.pending.RecordMiss(ctx, email)
	if err != nil {
		if !domain.Is(err, "pending_not_found") {
			s.audit(ctx, "otp_miss_not_recorded", map[string]string{
				"role":  string(policy.Role),
				"email": email,
				"code":  domainCode(err),
			})
		}
		return
	}
	if n == s.maxAttempts {
		s.audit(ctx, "otp_attempts_exhausted", map[string]string{
			"role":    string(policy.Role),
			"purpose": string(pur),
			"email":   email,
		})
	}
}

func (s *Service) completeRegistration(ctx context.Context, policy domain.RolePolicy, p domain.PendingVerification) (domain.Account, error) {
	now := s.now()
	acc := domain.Account{
		ID:           uuid.NewString(),
		Role:         policy.Role,
		Email:        domain.NormalizeEmail(p.Email),
		Name:         p.Name,
		PasswordHash: p.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if policy.Role == domain.RoleEmployee {
		acc.EmployeeID = p.EmployeeID
	}

	created, err := s.accounts.Create(ctx, acc)
	if err != nil {
		return domain.Account{}, err
	}

	// The account exists now; a leftover pending record is inert and will be
	// replaced or reaped, so report it instead of failing the signup.
	if err := s.pending.Delete(ctx, p.Email, p.OTP); err != nil {
		s.audit(ctx, "pending_cleanup_failed", map[string]string{
			"role":  string(policy.Role),
			"email": p.Email,
			"code":  domainCode(err),
		})
	}

	s.audit(ctx, "account_created", map[string]string{
		"role":       string(policy.Role),
		"account_id": created.ID,
		"email":      created.Email,
	})
	return created, nil
}

func (s *Service) authorizeReset(ctx context.Context, policy domain.RolePolicy, p domain.PendingVerification) (ResetAuthorization, error) {
	acc, err := s.accounts.GetByEmail(ctx, policy.Role, p.Email)
	if err != nil {
		return ResetAuthorization{}, err
	}

	// consume before granting so one code yields at most one grant
	if err := s.pending.Delete(ctx, p.Email, p.OTP); err != nil {
		return ResetAuthorization{}, err
	}

	token, err := newOpaqueToken(32)
	if err != nil {
		return ResetAuthorization{}, domain.ErrRandomFailed(err)
	}
	grant := ResetGrant{Role: policy.Role, AccountID: acc.ID, Email: acc.Email}
	if err := s.grants.Save(ctx, token, grant, s.grantTTL); err != nil {
		return ResetAuthorization{}, err
	}

	s.audit(ctx, "reset_authorized", map[string]string{
		"role":       string(policy.Role),
		"account_id": acc.ID,
		"email":      acc.Email,
	})
	return ResetAuthorization{Token: token, ExpiresAt: s.now().Add(s.grantTTL)}, nil
}
