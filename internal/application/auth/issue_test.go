package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

func validSignup(role, email string) RegistrationRequest {
	return RegistrationRequest{
		Role:            role,
		Email:           email,
		Name:            "Asha",
		Password:        "s3cret!",
		ConfirmPassword: "s3cret!",
		EmployeeID:      "E-1",
	}
}

func TestIssueRegistrationOTP_StagesPendingAndMails(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.codes.codes = []string{"482913"}

	res, err := r.svc.IssueRegistrationOTP(context.Background(), validSignup("customer", "  Asha@Gmail.com "))
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if res.Email != "asha@gmail.com" {
		t.Fatalf("expected normalized email, got %q", res.Email)
	}
	if want := r.clock.Now().Add(10 * time.Minute); !res.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, res.ExpiresAt)
	}

	p, ok := r.pending.get("asha@gmail.com")
	if !ok {
		t.Fatalf("expected pending record")
	}
	if p.OTP != "482913" || p.Purpose != domain.PurposeRegistration || p.Role != domain.RoleCustomer {
		t.Fatalf("unexpected pending %+v", p)
	}
	if p.PasswordHash != "hash:s3cret!" {
		t.Fatalf("expected hashed password staged, got %q", p.PasswordHash)
	}
	if p.EmployeeID != "" {
		t.Fatalf("customers never carry an employee id, got %q", p.EmployeeID)
	}

	m := r.mailer.last(t)
	if m.To != "asha@gmail.com" || m.Subject != "Account Verification OTP" {
		t.Fatalf("unexpected mail %+v", m)
	}
	if m.Body != "Your OTP code is: 482913" {
		t.Fatalf("unexpected body %q", m.Body)
	}
	requireField(t, r.requireAudit(t, "otp_issued"), "purpose", "registration")
	if r.accounts.count(domain.RoleCustomer) != 0 {
		t.Fatalf("signup must not create an account before verification")
	}
}

func TestIssueRegistrationOTP_AdminSubjectAndOrgDomain(t *testing.T) {
	t.Parallel()
	r := newRig(t)

	if _, err := r.svc.IssueRegistrationOTP(context.Background(), validSignup("admin", "boss@anurag.edu.in")); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if got := r.mailer.last(t).Subject; got != "Admin Verification OTP" {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestIssueRegistrationOTP_OrgDomainOnlyForAdmins(t *testing.T) {
	t.Parallel()
	r := newRig(t)

	for _, role := range []string{"customer", "employee"} {
		_, err := r.svc.IssueRegistrationOTP(context.Background(), validSignup(role, "x@anurag.edu.in"))
		requireErrCode(t, err, "domain_not_allowed")
	}
	if len(r.mailer.sent) != 0 || r.pending.replaces != 0 {
		t.Fatalf("rejected signups must not write or mail")
	}
}

func TestIssueRegistrationOTP_ValidationOrder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		mod  func(*RegistrationRequest)
		code string
	}{
		{"bad role", func(r *RegistrationRequest) { r.Role = "root" }, "invalid_role"},
		{"missing email", func(r *RegistrationRequest) { r.Email = " " }, "missing_field"},
		{"malformed email", func(r *RegistrationRequest) { r.Email = "nobody" }, "invalid_field"},
		{"domain before password", func(r *RegistrationRequest) { r.Email = "a@corp.io"; r.Password = "" }, "domain_not_allowed"},
		{"missing password", func(r *RegistrationRequest) { r.Password = "" }, "missing_field"},
		{"long password", func(r *RegistrationRequest) {
			r.Password = strings.Repeat("p", 73)
			r.ConfirmPassword = r.Password
		}, "invalid_field"},
		{"mismatch", func(r *RegistrationRequest) { r.ConfirmPassword = "other" }, "password_mismatch"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := newRig(t)
			req := validSignup("customer", "a@gmail.com")
			tc.mod(&req)
			_, err := r.svc.IssueRegistrationOTP(context.Background(), req)
			requireErrCode(t, err, tc.code)
			if r.pending.replaces != 0 || len(r.mailer.sent) != 0 {
				t.Fatalf("validation failure must not touch state")
			}
		})
	}
}

func TestIssueRegistrationOTP_MismatchKeepsEarlierPending(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	ctx := context.Background()

	if _, err := r.svc.IssueRegistrationOTP(ctx, validSignup("customer", "a@gmail.com")); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	first, _ := r.pending.get("a@gmail.com")

	bad := validSignup("customer", "a@gmail.com")
	bad.ConfirmPassword = "nope"
	_, err := r.svc.IssueRegistrationOTP(ctx, bad)
	requireErrCode(t, err, "password_mismatch")

	still, ok := r.pending.get("a@gmail.com")
	if !ok || still.OTP != first.OTP {
		t.Fatalf("expected earlier pending record to survive, got %+v", still)
	}
}

func TestIssueRegistrationOTP_EmployeeRequiresEmployeeID(t *testing.T) {
	t.Parallel()
	r := newRig(t)

	req := validSignup("employee", "e@gmail.com")
	req.EmployeeID = "  "
	_, err := r.svc.IssueRegistrationOTP(context.Background(), req)
	requireErrCode(t, err, "missing_field")

	req.EmployeeID = " E-77 "
	if _, err := r.svc.IssueRegistrationOTP(context.Background(), req); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	p, _ := r.pending.get("e@gmail.com")
	if p.EmployeeID != "E-77" {
		t.Fatalf("expected trimmed employee id, got %q", p.EmployeeID)
	}
}

func TestIssueRegistrationOTP_ReissueReplacesCode(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.codes.codes = []string{"111111", "222222"}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := r.svc.IssueRegistrationOTP(ctx, validSignup("customer", "a@gmail.com")); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}
	p, _ := r.pending.get("a@gmail.com")
	if p.OTP != "222222" {
		t.Fatalf("expected latest code to win, got %q", p.OTP)
	}

	_, err := r.svc.VerifyOTP(ctx, "registration", "customer", "a@gmail.com", "111111")
	requireErrCode(t, err, "otp_invalid_or_expired")
}

func TestIssueRegistrationOTP_DeliveryFailureKeepsRecord(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.mailer.err = errors.New("smtp down")

	_, err := r.svc.IssueRegistrationOTP(context.Background(), validSignup("customer", "a@gmail.com"))
	requireErrCode(t, err, "delivery_failed")
	if !domain.Retryable(err) {
		t.Fatalf("delivery failure should be retryable")
	}
	if _, ok := r.pending.get("a@gmail.com"); !ok {
		t.Fatalf("expected pending record to remain after delivery failure")
	}
	r.requireAudit(t, "otp_delivery_failed")
}

func TestIssueRegistrationOTP_DependencyFailures(t *testing.T) {
	t.Parallel()

	t.Run("hash", func(t *testing.T) {
		r := newRig(t)
		r.svc.hasher = fakeHasher{hashErr: errors.New("boom")}
		_, err := r.svc.IssueRegistrationOTP(context.Background(), validSignup("customer", "a@gmail.com"))
		requireErrCode(t, err, "hash_failed")
	})
	t.Run("random", func(t *testing.T) {
		r := newRig(t)
		r.codes.err = errors.New("entropy")
		_, err := r.svc.IssueRegistrationOTP(context.Background(), validSignup("customer", "a@gmail.com"))
		requireErrCode(t, err, "random_failed")
		if len(r.mailer.sent) != 0 {
			t.Fatalf("no mail without a code")
		}
	})
	t.Run("store", func(t *testing.T) {
		r := newRig(t)
		r.pending.replaceErr = domain.ErrRedisUnavailable(errors.New("conn refused"))
		_, err := r.svc.IssueRegistrationOTP(context.Background(), validSignup("customer", "a@gmail.com"))
		requireErrCode(t, err, "redis_unavailable")
		if len(r.mailer.sent) != 0 {
			t.Fatalf("no mail when the record was not stored")
		}
	})
	t.Run("lock held", func(t *testing.T) {
		r := newRig(t)
		unlock, err := r.locker.Lock(context.Background(), "a@gmail.com", time.Second)
		if err != nil {
			t.Fatalf("lock: %v", err)
		}
		defer unlock()
		_, err = r.svc.IssueRegistrationOTP(context.Background(), validSignup("customer", "a@gmail.com"))
		requireErrCode(t, err, "request_in_progress")
	})
}

func TestIssueResetOTP(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	ctx := context.Background()
	r.register(t, "admin", "boss@gmail.com", "pw1")

	if _, err := r.svc.IssueResetOTP(ctx, "admin", "BOSS@gmail.com"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	m := r.mailer.last(t)
	if m.Subject != "Admin Password Reset OTP" || m.Purpose != domain.PurposeReset {
		t.Fatalf("unexpected mail %+v", m)
	}
	p, _ := r.pending.get("boss@gmail.com")
	if p.Purpose != domain.PurposeReset || p.PasswordHash != "" {
		t.Fatalf("unexpected pending %+v", p)
	}
}

func TestIssueResetOTP_UnknownAccount(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.register(t, "customer", "c@gmail.com", "pw1")

	// same email, other role's account set
	_, err := r.svc.IssueResetOTP(context.Background(), "admin", "c@gmail.com")
	requireErrCode(t, err, "account_not_found")
	if got := len(r.mailer.sent); got != 1 {
		t.Fatalf("expected only the signup mail, got %d", got)
	}
}
