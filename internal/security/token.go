// Package security implements the opaque bearer-token primitives shared by
// the session service (C7) and the auth middleware (C8): random token
// generation, bcrypt hashing/verification, and the cache-key-only prefix
// derivation described by the spec's Token Primitives component.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenBytes is the length, in bytes, of the random material behind
	// every bearer token. The hex-encoded token is 2*TokenBytes long.
	TokenBytes = 32
	// PrefixLen is the number of leading hex characters used as a cache
	// key. It is never sufficient to authenticate on its own.
	PrefixLen = 16
	// DefaultBcryptCost mirrors the spec's default SESSION_BCRYPT_ROUNDS.
	DefaultBcryptCost = 12
)

// TokenManager generates and verifies bearer tokens at a configured bcrypt
// cost. The cost is a constructor parameter (not a package constant) so
// that tests can run at bcrypt.MinCost.
type TokenManager struct {
	cost int
}

func NewTokenManager(cost int) *TokenManager {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	return &TokenManager{cost: cost}
}

// GenerateToken returns a new random token and its bcrypt hash.
func (m *TokenManager) GenerateToken() (token string, hash string, err error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	token = hex.EncodeToString(buf)
	digest, err := bcrypt.GenerateFromPassword([]byte(token), m.cost)
	if err != nil {
		return "", "", fmt.Errorf("hash token: %w", err)
	}
	return token, string(digest), nil
}

// VerifyToken performs a constant-time bcrypt comparison of token against
// hash. It reports only a bool: a mismatch, an empty hash and a malformed
// hash all return false.
func VerifyToken(token, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// Prefix returns the first PrefixLen characters of a hex-encoded token,
// used exclusively as a cache key, never as authentication material.
func Prefix(token string) string {
	if len(token) < PrefixLen {
		return token
	}
	return token[:PrefixLen]
}

// ValidFormat requires length 2*TokenBytes and an all-hex alphabet.
func ValidFormat(token string) bool {
	if len(token) != 2*TokenBytes {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
