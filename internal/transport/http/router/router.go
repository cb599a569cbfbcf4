package router

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/baechuer/chatdesk-auth/internal/domain"
	"github.com/baechuer/chatdesk-auth/internal/transport/http/middleware"
)

type HealthHandler interface {
	Healthz(w http.ResponseWriter, r *http.Request)
	Readyz(w http.ResponseWriter, r *http.Request)
}

type AuthHandler interface {
	// Role taken from the {role} URL parameter
	Signup(w http.ResponseWriter, r *http.Request)
	VerifySignup(w http.ResponseWriter, r *http.Request)
	Login(w http.ResponseWriter, r *http.Request)
	ForgotPassword(w http.ResponseWriter, r *http.Request)
	VerifyReset(w http.ResponseWriter, r *http.Request)
	ResetPassword(w http.ResponseWriter, r *http.Request)
	Me(w http.ResponseWriter, r *http.Request)

	// Legacy routes with a fixed role
	SignupAs(role domain.Role) http.HandlerFunc
	VerifySignupAs(role domain.Role) http.HandlerFunc
	LoginAs(role domain.Role) http.HandlerFunc
	ForgotPasswordAs(role domain.Role) http.HandlerFunc
	ResetPasswordAs(role domain.Role) http.HandlerFunc
	VerifyResetLegacy(w http.ResponseWriter, r *http.Request)
}

// RateLimitFunc builds a limiter for one route key; nil disables limiting.
type RateLimitFunc func(routeKey string) func(http.Handler) http.Handler

type Deps struct {
	Health HealthHandler
	Auth   AuthHandler

	AuthMW    func(http.Handler) http.Handler
	RoleMW    func(http.Handler) http.Handler
	RateLimit RateLimitFunc

	// Metrics serves /metrics when set.
	Metrics http.Handler
}

func New(deps Deps) (http.Handler, error) {
	if deps.Health == nil {
		return nil, fmt.Errorf("nil Health handler")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("nil Auth handler")
	}
	if deps.AuthMW == nil {
		return nil, fmt.Errorf("nil Auth middleware")
	}
	if deps.RoleMW == nil {
		return nil, fmt.Errorf("nil Role middleware")
	}

	limit := func(key string) func(http.Handler) http.Handler {
		if deps.RateLimit == nil {
			return noop
		}
		if mw := deps.RateLimit(key); mw != nil {
			return mw
		}
		return noop
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.AccessLog)
	r.Use(middleware.Metrics)

	r.Get("/healthz", deps.Health.Healthz)
	r.Get("/readyz", deps.Health.Readyz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	a := deps.Auth
	r.Route("/auth/v1/{role}", func(r chi.Router) {
		r.With(limit("otp_issue")).Post("/signup", a.Signup)
		r.With(limit("otp_verify")).Post("/signup/verify", a.VerifySignup)
		r.With(limit("login")).Post("/login", a.Login)

		r.With(limit("otp_issue")).Post("/password/forgot", a.ForgotPassword)
		r.With(limit("otp_verify")).Post("/password/verify", a.VerifyReset)
		r.Post("/password/reset", a.ResetPassword)

		r.With(deps.AuthMW, deps.RoleMW).Get("/me", a.Me)
	})

	// Paths the previous web client still calls.
	r.Route("/api/auth", func(r chi.Router) {
		issue := limit("otp_issue")
		verify := limit("otp_verify")
		login := limit("login")

		r.With(issue).Post("/registerUser", a.SignupAs(domain.RoleCustomer))
		r.With(issue).Post("/adminSignup", a.SignupAs(domain.RoleAdmin))
		r.With(issue).Post("/employeeSignup", a.SignupAs(domain.RoleEmployee))

		r.With(verify).Post("/verifyRegisterOtp", a.VerifySignupAs(domain.RoleCustomer))
		r.With(verify).Post("/verifyAdminRegisterOtp", a.VerifySignupAs(domain.RoleAdmin))
		r.With(verify).Post("/verifyEmployeeRegisterOtp", a.VerifySignupAs(domain.RoleEmployee))

		r.With(login).Post("/loginUser", a.LoginAs(domain.RoleCustomer))
		r.With(login).Post("/loginAdmin", a.LoginAs(domain.RoleAdmin))
		r.With(login).Post("/employeeLogin", a.LoginAs(domain.RoleEmployee))

		r.With(issue).Post("/forgotPassword", a.ForgotPasswordAs(domain.RoleCustomer))
		r.With(issue).Post("/forgotPasswordAdmin", a.ForgotPasswordAs(domain.RoleAdmin))
		r.With(issue).Post("/forgotPasswordEmployee", a.ForgotPasswordAs(domain.RoleEmployee))
		r.With(verify).Post("/verifyForgotPasswordOtp", a.VerifyResetLegacy)

		r.Post("/resetPassword", a.ResetPasswordAs(domain.RoleCustomer))
		r.Post("/resetPasswordAdmin", a.ResetPasswordAs(domain.RoleAdmin))
		r.Post("/resetEmployeePassword", a.ResetPasswordAs(domain.RoleEmployee))
	})

	return r, nil
}

func noop(next http.Handler) http.Handler { return next }
