// Package auth holds the credential primitives: password hashing, session
// tokens, OTP generation and the bearer-token middleware.
package auth

import (
	"crypto/subtle"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/naqwa/academy/internal/apperror"
	"github.com/naqwa/academy/internal/model"
)

const (
	defaultCost = 12

	// MaxPasswordBytes is bcrypt's input limit. Longer passwords are rejected
	// instead of being silently truncated.
	MaxPasswordBytes = 72
)

// PasswordService hashes and verifies account passwords.
type PasswordService struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewPasswordService returns a hasher using the given bcrypt cost.
// A cost outside bcrypt's range falls back to the default of 12.
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = defaultCost
	}
	return &PasswordService{cost: cost}
}

// Hash returns a salted bcrypt digest. Two calls with the same input give
// different digests.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify reports whether plaintext matches the stored credential.
//
// Hashed credentials go through bcrypt; legacy plaintext credentials are
// compared in constant time. It never errors: a malformed digest or an empty
// legacy value is simply a mismatch.
func (p *PasswordService) Verify(plaintext string, cred model.Credential) bool {
	switch cred.Kind {
	case model.CredentialHashed:
		return bcrypt.CompareHashAndPassword([]byte(cred.Value), []byte(plaintext)) == nil
	case model.CredentialLegacy:
		if cred.Value == "" {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(cred.Value), []byte(plaintext)) == 1
	default:
		return false
	}
}

// VerifyMissing burns the same bcrypt work as a real comparison. Callers use
// it when the identity does not exist so response time does not reveal
// whether an account is registered.
func (p *PasswordService) VerifyMissing(plaintext string) {
	p.dummyOnce.Do(func() {
		p.dummy, _ = bcrypt.GenerateFromPassword([]byte("missing-account-placeholder"), p.cost)
	})
	_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(plaintext))
}
