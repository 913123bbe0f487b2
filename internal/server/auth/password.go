package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is used by the server configuration.
const DefaultBcryptCost = 12

// PasswordHasher turns a plaintext password into a storable hash and checks
// plaintext against such a hash.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(plain, hash string) bool
}

// Hasher is the bcrypt PasswordHasher.
type Hasher struct {
	cost int
}

// NewHasher returns a bcrypt hasher; cost <= 0 selects bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns a salted bcrypt hash. Passwords over 72 bytes are rejected.
func (h *Hasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Verify reports whether plain matches hash. Malformed or empty hashes never match.
func (h *Hasher) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
