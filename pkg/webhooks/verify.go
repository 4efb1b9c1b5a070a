package webhooks

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	ErrSecretMissing    = errors.New("webhook secret is empty")
	ErrSignatureMissing = errors.New("webhook signature header missing or malformed")
	ErrSignatureInvalid = errors.New("webhook signature does not match")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
)

// Event is the part of a gateway callback the fulfillment service records.
type Event struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Account  string    `json:"account,omitempty"`
	ObjectID string    `json:"objectID,omitempty"`
	Created  time.Time `json:"created"`
}

// PayloadHash identifies a raw callback body in the gateway event log.
func PayloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}
