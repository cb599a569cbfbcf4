package auth

import (
	"context"
	"strings"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

type LoginResult struct {
	Account     domain.Account
	AccessToken string // empty when no signer is configured
	TokenType   string
	ExpiresIn   int64 // seconds
}

// Login checks email+password against the role's account set.
//
// There is no lockout or backoff here: repeated failures are answered the
// same way every time. Throttling belongs to the transport layer.
func (s *Service) Login(ctx context.Context, role, email, password string) (LoginResult, error) {
	policy, err := s.policies.Get(role)
	if err != nil {
		return LoginResult{}, err
	}
	email, err = normalizeAndCheckEmail(email)
	if err != nil {
		return LoginResult{}, err
	}
	if password == "" {
		return LoginResult{}, domain.ErrMissingField("password")
	}

	acc, err := s.accounts.GetByEmail(ctx, policy.Role, email)
	return s.authenticate(ctx, policy, "email", email, acc, err, password)
}

// LoginByIdentity logs in with the role's identity key: the email for
// customers and admins, the employee id for employees.
func (s *Service) LoginByIdentity(ctx context.Context, role, identity, password string) (LoginResult, error) {
	policy, err := s.policies.Get(role)
	if err != nil {
		return LoginResult{}, err
	}
	if policy.Identity != domain.IdentityEmployeeID {
		return s.Login(ctx, role, identity, password)
	}
	id := strings.TrimSpace(identity)
	if id == "" {
		return LoginResult{}, domain.ErrMissingField("employee_id")
	}
	if password == "" {
		return LoginResult{}, domain.ErrMissingField("password")
	}
	acc, err := s.accounts.GetByEmployeeID(ctx, id)
	return s.authenticate(ctx, policy, "employee_id", id, acc, err, password)
}

// authenticate finishes a login; idKey names the audit field that carries
// the identifier the caller looked the account up by.
func (s *Service) authenticate(ctx context.Context, policy domain.RolePolicy, idKey, who string, acc domain.Account, lookupErr error, password string) (LoginResult, error) {
	if lookupErr != nil {
		if domain.Is(lookupErr, "account_not_found") {
			s.audit(ctx, "login_failed", map[string]string{"role": string(policy.Role), idKey: who, "reason": "not_found"})
		}
		return LoginResult{}, lookupErr
	}

	if err := s.hasher.Compare(acc.PasswordHash, password); err != nil {
		s.audit(ctx, "login_failed", map[string]string{"role": string(policy.Role), "email": acc.Email, "reason": "bad_password"})
		return LoginResult{}, domain.ErrInvalidCredentials()
	}

	res := LoginResult{Account: acc}
	if s.signer != nil {
		tok, err := s.signer.SignAccessToken(acc.ID, string(acc.Role), s.accessTTL)
		if err != nil {
			return LoginResult{}, domain.ErrTokenSignFailed(err)
		}
		res.AccessToken = tok
		res.TokenType = "Bearer"
		res.ExpiresIn = int64(s.accessTTL.Seconds())
	}

	s.audit(ctx, "login_success", map[string]string{
		"role":       string(policy.Role),
		"account_id": acc.ID,
		"email":      acc.Email,
	})
	return res, nil
}

// GetAccount loads the account behind an access token.
func (s *Service) GetAccount(ctx context.Context, role, accountID string) (domain.Account, error) {
	policy, err := s.policies.Get(role)
	if err != nil {
		return domain.Account{}, err
	}
	if accountID == "" {
		return domain.Account{}, domain.ErrMissingField("account_id")
	}
	return s.accounts.GetByID(ctx, policy.Role, accountID)
}
