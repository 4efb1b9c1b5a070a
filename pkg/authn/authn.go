// Package authn issues and checks licensor API tokens. Only a bcrypt hash of
// a token is ever stored.
package authn

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrUnauthorized = errors.New("unauthorized")

const tokenBytes = 32

// NewToken returns a fresh random token and its bcrypt hash.
func NewToken(cost int) (token, hash string, err error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(raw)
	h, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", "", err
	}
	return token, string(h), nil
}

// Check compares token against a stored hash. Every mismatch, including an
// empty hash, is ErrUnauthorized.
func Check(hash, token string) error {
	if hash == "" || token == "" {
		return ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		return ErrUnauthorized
	}
	return nil
}

func ParseBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
