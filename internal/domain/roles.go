package domain

import (
	"strings"
)

type Role string

const (
	// Customers open support chats.
	RoleCustomer Role = "customer"
	// Employees answer chats; identified by an employee id on reset.
	RoleEmployee Role = "employee"
	// Admins manage the workspace; may register with the organization domain.
	RoleAdmin Role = "admin"
)

// IdentityField names the account attribute a password reset is keyed by.
type IdentityField string

const (
	IdentityEmail      IdentityField = "email"
	IdentityEmployeeID IdentityField = "employee_id"
)

// PublicEmailDomains are the providers every role may register with.
var PublicEmailDomains = []string{"gmail.com", "yahoo.com", "outlook.com"}

// RolePolicy describes how one role's pipeline behaves.
type RolePolicy struct {
	Role           Role
	Collection     string // table / collection holding the role's accounts
	AllowedDomains []string
	Identity       IdentityField

	RegistrationSubject string
	ResetSubject        string
}

// AllowsDomain reports whether the (already normalized) email's domain is on
// the role's allow-list.
func (p RolePolicy) AllowsDomain(email string) bool {
	d := EmailDomain(email)
	if d == "" {
		return false
	}
	for _, allowed := range p.AllowedDomains {
		if d == allowed {
			return true
		}
	}
	return false
}

// Policies is the role registry; lookups go through Get.
type Policies map[Role]RolePolicy

func (ps Policies) Get(role string) (RolePolicy, error) {
	p, ok := ps[Role(strings.TrimSpace(strings.ToLower(role)))]
	if !ok {
		return RolePolicy{}, ErrInvalidRole(role)
	}
	return p, nil
}

// DefaultPolicies builds the three role descriptors. orgDomain is the extra
// domain admins may register with; empty means public domains only.
func DefaultPolicies(orgDomain string) Policies {
	adminDomains := append([]string{}, PublicEmailDomains...)
	if d := strings.TrimSpace(strings.ToLower(orgDomain)); d != "" {
		adminDomains = append(adminDomains, d)
	}

	return Policies{
		RoleCustomer: {
			Role:                RoleCustomer,
			Collection:          "customers",
			AllowedDomains:      append([]string{}, PublicEmailDomains...),
			Identity:            IdentityEmail,
			RegistrationSubject: "Account Verification OTP",
			ResetSubject:        "Password Reset OTP",
		},
		RoleEmployee: {
			Role:                RoleEmployee,
			Collection:          "employees",
			AllowedDomains:      append([]string{}, PublicEmailDomains...),
			Identity:            IdentityEmployeeID,
			RegistrationSubject: "Account Verification OTP",
			ResetSubject:        "Password Reset OTP",
		},
		RoleAdmin: {
			Role:                RoleAdmin,
			Collection:          "admins",
			AllowedDomains:      adminDomains,
			Identity:            IdentityEmail,
			RegistrationSubject: "Admin Verification OTP",
			ResetSubject:        "Admin Password Reset OTP",
		},
	}
}

// AllRoles lists roles in a stable order.
func AllRoles() []Role {
	return []Role{RoleCustomer, RoleEmployee, RoleAdmin}
}

func IsValidRole(r string) bool {
	switch Role(r) {
	case RoleCustomer, RoleEmployee, RoleAdmin:
		return true
	}
	return false
}
