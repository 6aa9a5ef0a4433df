// Package auth provides the credential primitives used by scriptgate: pluggable
// verification of account secrets and signed session tokens for the admin API.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the cost factor used when none is configured.
const DefaultBcryptCost = 12

// MaxHashedSecretBytes is the longest secret bcrypt accepts.
const MaxHashedSecretBytes = 72

// ErrSecretTooLong is returned by Hash when the secret cannot be hashed
// because of its length. It is a caller input error.
var ErrSecretTooLong = fmt.Errorf("secret must be at most %d bytes", MaxHashedSecretBytes)

// SecretVerifier hashes and compares account secrets.
// Implementations must be safe for concurrent use.
type SecretVerifier interface {
	// Hash turns a plaintext secret into its stored form.
	Hash(secret string) (string, error)
	// Verify reports whether secret matches the stored form.
	Verify(stored, secret string) bool
}

// NewVerifier returns the verifier for mode ("hashed" or "plain").
func NewVerifier(mode string, bcryptCost int) (SecretVerifier, error) {
	switch mode {
	case "hashed", "":
		if bcryptCost == 0 {
			bcryptCost = DefaultBcryptCost
		}
		if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", bcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
		}
		return BcryptVerifier{Cost: bcryptCost}, nil
	case "plain":
		return PlainVerifier{}, nil
	default:
		return nil, fmt.Errorf("unknown secret mode %q", mode)
	}
}

// BcryptVerifier stores secrets as bcrypt hashes.
type BcryptVerifier struct {
	Cost int
}

// Hash implements SecretVerifier.
func (v BcryptVerifier) Hash(secret string) (string, error) {
	if len(secret) > MaxHashedSecretBytes {
		return "", ErrSecretTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), v.Cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// Verify implements SecretVerifier. A malformed stored hash never matches.
func (v BcryptVerifier) Verify(stored, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(secret)) == nil
}

// PlainVerifier stores secrets verbatim and compares in constant time.
// Only for deployments migrating legacy plaintext credentials.
type PlainVerifier struct{}

// Hash implements SecretVerifier; the stored form is the secret itself.
func (PlainVerifier) Hash(secret string) (string, error) {
	return secret, nil
}

// Verify implements SecretVerifier.
func (PlainVerifier) Verify(stored, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) == 1
}

// ExtractBearerToken extracts the token from an Authorization header.
// Expected format: "Bearer <token>"
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}

	return token, nil
}
