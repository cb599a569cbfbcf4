package dto

import (
	"github.com/baechuer/chatdesk-auth/internal/application/auth"
	"github.com/baechuer/chatdesk-auth/internal/domain"
)

// Legacy clients post camel-cased or squashed field names
// (confirmpassword, employeeID, newPassword). Both spellings decode; the
// snake_case one wins when both are present.

type SignupRequest struct {
	Name            string `json:"name" validate:"max=100"`
	Email           string `json:"email" validate:"required,max=254"`
	Password        string `json:"password" validate:"max=1024"`
	ConfirmPassword string `json:"confirm_password" validate:"max=1024"`
	EmployeeID      string `json:"employee_id" validate:"max=64"`

	LegacyConfirmPassword string `json:"confirmpassword" validate:"max=1024"`
	LegacyEmployeeID      string `json:"employeeID" validate:"max=64"`
}

func (r *SignupRequest) Validate() error { return Validate(r) }

func (r *SignupRequest) ToRegistration(role domain.Role) auth.RegistrationRequest {
	return auth.RegistrationRequest{
		Role:            string(role),
		Email:           r.Email,
		Name:            r.Name,
		Password:        r.Password,
		ConfirmPassword: firstNonEmpty(r.ConfirmPassword, r.LegacyConfirmPassword),
		EmployeeID:      firstNonEmpty(r.EmployeeID, r.LegacyEmployeeID),
	}
}

// VerifyOTPRequest serves both signup and reset verification. Role is only
// read on the shared legacy reset-verify route.
type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,max=254"`
	OTP   string `json:"otp" validate:"required,otp_code"`
	Role  string `json:"role,omitempty" validate:"omitempty,oneof=customer employee admin"`
}

func (r *VerifyOTPRequest) Validate() error { return Validate(r) }

// LoginRequest accepts an email, or for employees an employee id.
type LoginRequest struct {
	Email      string `json:"email" validate:"max=254"`
	EmployeeID string `json:"employee_id" validate:"max=64"`
	Password   string `json:"password" validate:"max=1024"`

	LegacyEmployeeID string `json:"employeeID" validate:"max=64"`
}

func (r *LoginRequest) Validate() error { return Validate(r) }

// Identity returns the login key for role. Employees may use either key;
// the email wins when both are present.
func (r *LoginRequest) Identity(role domain.Role) (identity string, byEmployeeID bool) {
	if r.Email != "" || role != domain.RoleEmployee {
		return r.Email, false
	}
	return firstNonEmpty(r.EmployeeID, r.LegacyEmployeeID), true
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,max=254"`
}

func (r *ForgotPasswordRequest) Validate() error { return Validate(r) }

type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"max=254"`
	EmployeeID  string `json:"employee_id" validate:"max=64"`
	NewPassword string `json:"new_password" validate:"max=1024"`
	ResetToken  string `json:"reset_token" validate:"max=512"`

	LegacyEmployeeID  string `json:"employeeID" validate:"max=64"`
	LegacyNewPassword string `json:"newPassword" validate:"max=1024"`
}

func (r *ResetPasswordRequest) Validate() error { return Validate(r) }

// ToReset picks the identity the role's accounts are keyed by.
func (r *ResetPasswordRequest) ToReset(policy domain.RolePolicy) auth.ResetRequest {
	identity := r.Email
	if policy.Identity == domain.IdentityEmployeeID {
		identity = firstNonEmpty(r.EmployeeID, r.LegacyEmployeeID)
	}
	return auth.ResetRequest{
		Role:        string(policy.Role),
		Identity:    identity,
		NewPassword: firstNonEmpty(r.NewPassword, r.LegacyNewPassword),
		ResetToken:  r.ResetToken,
	}
}
