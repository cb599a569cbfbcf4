package http_handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
	"github.com/baechuer/chatdesk-auth/internal/domain"
	"github.com/baechuer/chatdesk-auth/internal/infrastructure/memory"
	"github.com/baechuer/chatdesk-auth/internal/infrastructure/security"
	"github.com/baechuer/chatdesk-auth/internal/transport/http/middleware"
	"github.com/baechuer/chatdesk-auth/internal/transport/http/response"
)

// mustJSONBody marshals v to JSON and returns an io.Reader for request body.
func mustJSONBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json marshal: %v", err)
	}
	return bytes.NewReader(b)
}

// mustReadData decodes the {"data": ...} envelope into out.
func mustReadData(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil || len(env.Data) == 0 {
		t.Fatalf("decode envelope failed; body=%s", rr.Body.String())
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data failed; body=%s err=%v", rr.Body.String(), err)
	}
}

func mustErrCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	var body response.ErrorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v; body=%s", err, rr.Body.String())
	}
	if body.Error.Code != code {
		t.Fatalf("expected code %q, got %q", code, body.Error.Code)
	}
}

type testEnv struct {
	h      http.Handler
	mailer *memory.LogMailer
	signer *security.JWTSigner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mailer := memory.NewLogMailer(zerolog.Nop())
	signer := security.NewJWTSigner("test-secret", "test-issuer")

	svc := auth.NewService(
		memory.NewAccountRepo(),
		memory.NewPendingStore(),
		memory.NewResetGrantStore(),
		memory.NewEmailLocker(),
		security.NewBcryptHasher(4),
		security.NewNumericCodeGenerator(),
		mailer,
		auth.Config{Policies: domain.DefaultPolicies("anurag.edu.in"), AccessTTL: 15 * time.Minute},
	).WithSigner(signer)

	h := NewAuthHandler(svc)
	r := chi.NewRouter()
	r.Route("/auth/v1/{role}", func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Post("/signup/verify", h.VerifySignup)
		r.Post("/login", h.Login)
		r.Post("/password/forgot", h.ForgotPassword)
		r.Post("/password/verify", h.VerifyReset)
		r.Post("/password/reset", h.ResetPassword)
		r.With(
			middleware.Auth(signer, response.WriteError),
			middleware.RequirePathRole(response.WriteError),
		).Get("/me", h.Me)
	})
	r.Post("/api/auth/employeeSignup", h.SignupAs(domain.RoleEmployee))
	r.Post("/api/auth/verifyEmployeeRegisterOtp", h.VerifySignupAs(domain.RoleEmployee))
	r.Post("/api/auth/employeeLogin", h.LoginAs(domain.RoleEmployee))
	r.Post("/api/auth/forgotPasswordEmployee", h.ForgotPasswordAs(domain.RoleEmployee))
	r.Post("/api/auth/verifyForgotPasswordOtp", h.VerifyResetLegacy)
	r.Post("/api/auth/resetEmployeePassword", h.ResetPasswordAs(domain.RoleEmployee))

	return &testEnv{h: r, mailer: mailer, signer: signer}
}

func (e *testEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, mustJSONBody(t, body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) get(t *testing.T, path, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

// lastCode pulls the six digits out of the most recent mail.
func (e *testEnv) lastCode(t *testing.T) string {
	t.Helper()
	sent := e.mailer.Sent()
	if len(sent) == 0 {
		t.Fatalf("no mail sent")
	}
	body := sent[len(sent)-1].Body
	i := strings.LastIndex(body, ": ")
	if i < 0 || len(body[i+2:]) != 6 {
		t.Fatalf("unexpected mail body %q", body)
	}
	return body[i+2:]
}

func httptestRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(e *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}
