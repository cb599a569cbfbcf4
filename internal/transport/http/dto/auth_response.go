package dto

import (
	"time"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
	"github.com/baechuer/chatdesk-auth/internal/domain"
)

// AccountView is the public shape of an account; the hash never leaves.
type AccountView struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	EmployeeID string    `json:"employee_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewAccountView(a domain.Account) AccountView {
	return AccountView{
		ID:         a.ID,
		Role:       string(a.Role),
		Email:      a.Email,
		Name:       a.Name,
		EmployeeID: a.EmployeeID,
		CreatedAt:  a.CreatedAt.UTC(),
	}
}

type LoginResponse struct {
	Account     AccountView `json:"account"`
	AccessToken string      `json:"access_token,omitempty"`
	TokenType   string      `json:"token_type,omitempty"`
	ExpiresIn   int64       `json:"expires_in,omitempty"`
}

func NewLoginResponse(res auth.LoginResult) LoginResponse {
	return LoginResponse{
		Account:     NewAccountView(res.Account),
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		ExpiresIn:   res.ExpiresIn,
	}
}

type IssueResponse struct {
	Message   string    `json:"message"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewIssueResponse(res auth.IssueResult) IssueResponse {
	return IssueResponse{
		Message:   "OTP sent to email",
		Email:     res.Email,
		ExpiresAt: res.ExpiresAt.UTC(),
	}
}

type ResetGrantResponse struct {
	ResetToken string    `json:"reset_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func NewResetGrantResponse(a auth.ResetAuthorization) ResetGrantResponse {
	return ResetGrantResponse{ResetToken: a.Token, ExpiresAt: a.ExpiresAt.UTC()}
}
