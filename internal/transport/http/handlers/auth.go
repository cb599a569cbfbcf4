package http_handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
	"github.com/baechuer/chatdesk-auth/internal/domain"
	"github.com/baechuer/chatdesk-auth/internal/logger"
	"github.com/baechuer/chatdesk-auth/internal/transport/http/dto"
	"github.com/baechuer/chatdesk-auth/internal/transport/http/middleware"
	"github.com/baechuer/chatdesk-auth/internal/transport/http/response"
)

type AuthHandler struct {
	svc *auth.Service
}

func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// rolePolicy resolves the {role} URL parameter, or the fixed role a legacy
// route was mounted with.
func (h *AuthHandler) rolePolicy(r *http.Request, fixed domain.Role) (domain.RolePolicy, error) {
	role := string(fixed)
	if role == "" {
		role = chi.URLParam(r, "role")
	}
	return h.svc.Policies().Get(role)
}

// errCode labels metrics with the stable domain code; codes are a closed set.
func errCode(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "internal_error"
}

// ---------- signup ----------

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) { h.signup(w, r, "") }

func (h *AuthHandler) SignupAs(role domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { h.signup(w, r, role) }
}

func (h *AuthHandler) signup(w http.ResponseWriter, r *http.Request, fixed domain.Role) {
	policy, err := h.rolePolicy(r, fixed)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	var req dto.SignupRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	res, err := h.svc.IssueRegistrationOTP(r.Context(), req.ToRegistration(policy.Role))
	middleware.OTPIssuedTotal.WithLabelValues(string(policy.Role), string(domain.PurposeRegistration), middleware.Outcome(err, errCode)).Inc()
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	logger.WithCtx(r.Context()).Info().
		Str("role", string(policy.Role)).
		Msg("registration_otp_issued")

	response.Accepted(w, dto.NewIssueResponse(res))
}

func (h *AuthHandler) VerifySignup(w http.ResponseWriter, r *http.Request) {
	h.verifySignup(w, r, "")
}

func (h *AuthHandler) VerifySignupAs(role domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { h.verifySignup(w, r, role) }
}

func (h *AuthHandler) verifySignup(w http.ResponseWriter, r *http.Request, fixed domain.Role) {
	policy, err := h.rolePolicy(r, fixed)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	var req dto.VerifyOTPRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	res, err := h.svc.VerifyOTP(r.Context(), string(domain.PurposeRegistration), string(policy.Role), req.Email, strings.TrimSpace(req.OTP))
	middleware.OTPVerifiedTotal.WithLabelValues(string(policy.Role), string(domain.PurposeRegistration), middleware.Outcome(err, errCode)).Inc()
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	logger.WithCtx(r.Context()).Info().
		Str("role", string(policy.Role)).
		Str("account_id", res.Account.ID).
		Msg("account_registered")

	response.Created(w, dto.NewAccountView(*res.Account))
}

// ---------- login ----------

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) { h.login(w, r, "") }

func (h *AuthHandler) LoginAs(role domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { h.login(w, r, role) }
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request, fixed domain.Role) {
	policy, err := h.rolePolicy(r, fixed)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	var req dto.LoginRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	var res auth.LoginResult
	if identity, byEmployeeID := req.Identity(policy.Role); byEmployeeID {
		res, err = h.svc.LoginByIdentity(r.Context(), string(policy.Role), identity, req.Password)
	} else {
		res, err = h.svc.Login(r.Context(), string(policy.Role), identity, req.Password)
	}
	middleware.LoginAttemptsTotal.WithLabelValues(string(policy.Role), middleware.Outcome(err, errCode)).Inc()
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	logger.WithCtx(r.Context()).Info().
		Str("role", string(policy.Role)).
		Str("account_id", res.Account.ID).
		Msg("account_logged_in")

	response.OK(w, dto.NewLoginResponse(res))
}

// ---------- password reset ----------

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	h.forgotPassword(w, r, "")
}

func (h *AuthHandler) ForgotPasswordAs(role domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { h.forgotPassword(w, r, role) }
}

func (h *AuthHandler) forgotPassword(w http.ResponseWriter, r *http.Request, fixed domain.Role) {
	policy, err := h.rolePolicy(r, fixed)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	var req dto.ForgotPasswordRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	res, err := h.svc.IssueResetOTP(r.Context(), string(policy.Role), req.Email)
	middleware.OTPIssuedTotal.WithLabelValues(string(policy.Role), string(domain.PurposeReset), middleware.Outcome(err, errCode)).Inc()
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.Accepted(w, dto.NewIssueResponse(res))
}

func (h *AuthHandler) VerifyReset(w http.ResponseWriter, r *http.Request) {
	h.verifyReset(w, r, "", false)
}

// VerifyResetLegacy serves the one reset-verify route shared by all roles;
// the role comes from the body and defaults to customer.
func (h *AuthHandler) VerifyResetLegacy(w http.ResponseWriter, r *http.Request) {
	h.verifyReset(w, r, "", true)
}

func (h *AuthHandler) verifyReset(w http.ResponseWriter, r *http.Request, fixed domain.Role, roleFromBody bool) {
	var req dto.VerifyOTPRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}

	if roleFromBody {
		fixed = domain.RoleCustomer
		if req.Role != "" {
			fixed = domain.Role(strings.ToLower(req.Role))
		}
	}
	policy, err := h.rolePolicy(r, fixed)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	res, err := h.svc.VerifyOTP(r.Context(), string(domain.PurposeReset), string(policy.Role), req.Email, strings.TrimSpace(req.OTP))
	middleware.OTPVerifiedTotal.WithLabelValues(string(policy.Role), string(domain.PurposeReset), middleware.Outcome(err, errCode)).Inc()
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.OK(w, dto.NewResetGrantResponse(*res.Reset))
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	h.resetPassword(w, r, "")
}

func (h *AuthHandler) ResetPasswordAs(role domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { h.resetPassword(w, r, role) }
}

func (h *AuthHandler) resetPassword(w http.ResponseWriter, r *http.Request, fixed domain.Role) {
	policy, err := h.rolePolicy(r, fixed)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	var req dto.ResetPasswordRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.ToReset(policy)); err != nil {
		response.WriteError(w, r, err)
		return
	}

	logger.WithCtx(r.Context()).Info().
		Str("role", string(policy.Role)).
		Msg("password_reset")

	response.NoContent(w)
}

// ---------- me ----------

// Me returns the account behind the bearer token. Auth and RequirePathRole
// run first.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrTokenInvalid())
		return
	}
	role, _ := middleware.RoleFromContext(r.Context())

	acc, err := h.svc.GetAccount(r.Context(), role, id)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.OK(w, dto.NewAccountView(acc))
}
