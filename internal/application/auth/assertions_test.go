package auth

import (
	"testing"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

func requireErrCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error code=%q, got nil", code)
	}
	if !domain.Is(err, code) {
		t.Fatalf("expected code=%q, got err=%v", code, err)
	}
}

func requireField(t *testing.T, e auditEntry, key, want string) {
	t.Helper()
	if got := e.fields[key]; got != want {
		t.Fatalf("audit %q: expected %s=%q, got %q", e.action, key, want, got)
	}
}
