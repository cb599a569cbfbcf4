package security

import (
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

func TestNewBcryptHasher_DefaultCostWhenNonPositive(t *testing.T) {
	t.Parallel()

	h := NewBcryptHasher(0)
	if h.cost != DefaultCost {
		t.Fatalf("expected cost=%d, got %d", DefaultCost, h.cost)
	}
}

func TestBcryptHasher_HashAndCompare(t *testing.T) {
	t.Parallel()

	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("pw123")
	if err != nil {
		t.Fatalf("hash err: %v", err)
	}
	if hash == "pw123" {
		t.Fatalf("hash should not equal plaintext")
	}
	if err := h.Compare(hash, "pw123"); err != nil {
		t.Fatalf("compare should succeed, got %v", err)
	}
	if err := h.Compare(hash, "wrongpw"); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestBcryptHasher_CompareAcceptsOtherCost(t *testing.T) {
	t.Parallel()

	legacy, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost+1)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := NewBcryptHasher(bcrypt.MinCost).Compare(string(legacy), "pw"); err != nil {
		t.Fatalf("expected legacy hash to verify, got %v", err)
	}
}

func TestBcryptHasher_Hash_TooHighCost_ReturnsHashFailed(t *testing.T) {
	t.Parallel()

	_, err := NewBcryptHasher(100).Hash("pw")
	if !domain.Is(err, "hash_failed") {
		t.Fatalf("expected hash_failed, got %v", err)
	}
}
