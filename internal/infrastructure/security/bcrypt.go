package security

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

// DefaultCost matches the work factor accounts were historically hashed with.
const DefaultCost = 10

type BcryptHasher struct {
	cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", domain.ErrHashFailed(err)
	}
	return string(b), nil
}

// Compare returns nil only when password matches hash. Hashes written at a
// different cost still verify.
func (h *BcryptHasher) Compare(hash string, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
