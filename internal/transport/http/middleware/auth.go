package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
	"github.com/baechuer/chatdesk-auth/internal/domain"
)

type TokenVerifier interface {
	VerifyAccessToken(token string) (auth.TokenClaims, error)
}

type WriteErrFunc func(http.ResponseWriter, *http.Request, error)

// Auth verifies Authorization: Bearer <access_token> and injects the
// account id and role into the request context.
func Auth(verifier TokenVerifier, writeErr WriteErrFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				writeErr(w, r, domain.ErrTokenInvalid())
				return
			}

			h := r.Header.Get("Authorization")
			if h == "" {
				writeErr(w, r, domain.ErrTokenMissing())
				return
			}

			parts := strings.SplitN(h, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeErr(w, r, domain.ErrTokenInvalid())
				return
			}

			raw := strings.TrimSpace(parts[1])
			if raw == "" {
				writeErr(w, r, domain.ErrTokenInvalid())
				return
			}

			claims, err := verifier.VerifyAccessToken(raw)
			if err != nil {
				writeErr(w, r, err)
				return
			}
			if strings.TrimSpace(claims.AccountID) == "" || !domain.IsValidRole(claims.Role) {
				writeErr(w, r, domain.ErrTokenInvalid())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), claims.AccountID, claims.Role)))
		})
	}
}

// RequirePathRole rejects tokens minted for a different role than the
// {role} URL parameter. Runs after Auth.
func RequirePathRole(writeErr WriteErrFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := RoleFromContext(r.Context())
			if !ok {
				writeErr(w, r, domain.ErrTokenInvalid())
				return
			}
			if pathRole := strings.ToLower(chi.URLParam(r, "role")); pathRole != "" && pathRole != role {
				writeErr(w, r, domain.ErrForbidden())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
