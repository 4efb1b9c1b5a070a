package webhooks

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

var chargeExpired = []byte(`{"id":"evt_123","type":"charge.expired","account":"acct_1","created":1700000000,"data":{"object":{"id":"ch_9"}}}`)

func TestStripeVerifier_ValidSignature(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	headers := http.Header{}
	headers.Set(StripeSignatureHeader, SignStripePayload("whsec_test", at, chargeExpired))

	got, err := NewStripeVerifier("whsec_test", 300*time.Second).Verify(headers, chargeExpired, at.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if got.ID != "evt_123" || got.Type != "charge.expired" {
		t.Fatalf("unexpected event metadata: %#v", got)
	}
	if got.Account != "acct_1" || got.ObjectID != "ch_9" {
		t.Fatalf("unexpected charge linkage: %#v", got)
	}
}

func TestStripeVerifier_InvalidSignature(t *testing.T) {
	headers := http.Header{}
	headers.Set(StripeSignatureHeader, "t=1700000000,v1=deadbeef")
	_, err := NewStripeVerifier("whsec_test", 0).Verify(headers, chargeExpired, time.Unix(1_700_000_001, 0))
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestStripeVerifier_MissingHeader(t *testing.T) {
	_, err := NewStripeVerifier("whsec_test", 0).Verify(http.Header{}, chargeExpired, time.Unix(1_700_000_001, 0))
	if !errors.Is(err, ErrSignatureMissing) {
		t.Fatalf("expected ErrSignatureMissing, got %v", err)
	}
}

func TestStripeVerifier_TimestampOutsideTolerance(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	headers := http.Header{}
	headers.Set(StripeSignatureHeader, SignStripePayload("whsec_test", at, chargeExpired))
	_, err := NewStripeVerifier("whsec_test", 300*time.Second).Verify(headers, chargeExpired, at.Add(301*time.Second))
	if !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestStripeVerifier_JSONParsedOnlyAfterValidSignature(t *testing.T) {
	body := []byte(`{invalid-json`)
	at := time.Unix(1_700_000_000, 0)
	headers := http.Header{}
	headers.Set(StripeSignatureHeader, SignStripePayload("whsec_test", at, body))
	got, err := NewStripeVerifier("whsec_test", 0).Verify(headers, body, at)
	if err != nil {
		t.Fatalf("expected valid signature even for invalid json: %v", err)
	}
	if got.ID != "" || got.Type != "unknown" {
		t.Fatalf("unexpected event: %#v", got)
	}
}

func TestStripeVerifier_EmptySecret(t *testing.T) {
	_, err := NewStripeVerifier(" ", 0).Verify(http.Header{}, nil, time.Now())
	if !errors.Is(err, ErrSecretMissing) {
		t.Fatalf("expected ErrSecretMissing, got %v", err)
	}
}
