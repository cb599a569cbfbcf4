package auth

import (
	"context"
	"strings"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

// ResetRequest identifies the account by email for customers and admins and
// by employee id for employees.
type ResetRequest struct {
	Role        string
	Identity    string
	NewPassword string
	ResetToken  string
}

// ResetPassword overwrites the stored hash. It requires the token returned by
// a reset verification for the same role and account; the token is spent
// even when it turns out to belong to someone else.
func (s *Service) ResetPassword(ctx context.Context, req ResetRequest) error {
	policy, err := s.policies.Get(req.Role)
	if err != nil {
		return err
	}
	if err := checkPassword("new_password", req.NewPassword); err != nil {
		return err
	}
	token := strings.TrimSpace(req.ResetToken)
	if token == "" {
		return domain.ErrMissingField("reset_token")
	}

	acc, err := s.lookupIdentity(ctx, policy, req.Identity)
	if err != nil {
		return err
	}

	grant, err := s.grants.Consume(ctx, token)
	if err != nil {
		return err
	}
	if grant.Role != policy.Role || grant.AccountID != acc.ID {
		s.audit(ctx, "reset_token_mismatch", map[string]string{
			"role":       string(policy.Role),
			"account_id": acc.ID,
		})
		return domain.ErrResetTokenInvalid()
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return domain.ErrHashFailed(err)
	}
	if err := s.accounts.UpdatePasswordHash(ctx, policy.Role, acc.ID, hash); err != nil {
		return err
	}

	s.audit(ctx, "password_reset", map[string]string{
		"role":       string(policy.Role),
		"account_id": acc.ID,
		"email":      acc.Email,
	})
	return nil
}

func (s *Service) lookupIdentity(ctx context.Context, policy domain.RolePolicy, identity string) (domain.Account, error) {
	switch policy.Identity {
	case domain.IdentityEmployeeID:
		id := strings.TrimSpace(identity)
		if id == "" {
			return domain.Account{}, domain.ErrMissingField("employee_id")
		}
		return s.accounts.GetByEmployeeID(ctx, id)
	default:
		email, err := normalizeAndCheckEmail(identity)
		if err != nil {
			return domain.Account{}, err
		}
		return s.accounts.GetByEmail(ctx, policy.Role, email)
	}
}
