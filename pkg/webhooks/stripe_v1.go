package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	StripeSignatureHeader  = "Stripe-Signature"
	DefaultStripeTolerance = 300 * time.Second
)

// StripeVerifier checks the v1 scheme of the Stripe-Signature header:
// HMAC-SHA256 over "<t>.<body>" keyed with the endpoint secret.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	if tolerance == 0 {
		tolerance = DefaultStripeTolerance
	}
	return &StripeVerifier{secret: strings.TrimSpace(secret), tolerance: tolerance}
}

// Verify authenticates rawBody and returns the decoded event. A negative
// tolerance disables the timestamp check.
func (v *StripeVerifier) Verify(headers http.Header, rawBody []byte, receivedAt time.Time) (Event, error) {
	if v.secret == "" {
		return Event{}, ErrSecretMissing
	}
	timestamp, signatures := parseStripeSignatureHeader(headers.Values(StripeSignatureHeader))
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || ts <= 0 || len(signatures) == 0 {
		return Event{}, ErrSignatureMissing
	}

	expected := stripeMAC(v.secret, timestamp, rawBody)
	valid := false
	for _, sigHex := range signatures {
		decoded, err := hex.DecodeString(sigHex)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			valid = true
			break
		}
	}
	if !valid {
		return Event{}, ErrSignatureInvalid
	}
	if v.tolerance > 0 {
		skew := receivedAt.Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.tolerance {
			return Event{}, ErrStaleTimestamp
		}
	}

	var payload struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Account string `json:"account"`
		Created int64  `json:"created"`
		Data    struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	evt := Event{Type: "unknown", Created: time.Unix(ts, 0).UTC()}
	if err := json.Unmarshal(rawBody, &payload); err == nil {
		evt.ID = strings.TrimSpace(payload.ID)
		if t := strings.TrimSpace(payload.Type); t != "" {
			evt.Type = t
		}
		evt.Account = payload.Account
		evt.ObjectID = payload.Data.Object.ID
		if payload.Created > 0 {
			evt.Created = time.Unix(payload.Created, 0).UTC()
		}
	}
	return evt, nil
}

// SignStripePayload builds a Stripe-Signature header value for body.
func SignStripePayload(secret string, at time.Time, body []byte) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(stripeMAC(secret, timestamp, body))
}

func stripeMAC(secret, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

func parseStripeSignatureHeader(values []string) (string, []string) {
	joined := strings.TrimSpace(strings.Join(values, ","))
	if joined == "" {
		return "", nil
	}
	var t string
	v1 := make([]string, 0, 2)
	for _, part := range strings.Split(joined, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		switch {
		case k == "t" && t == "":
			t = val
		case k == "v1" && val != "":
			v1 = append(v1, val)
		}
	}
	return t, v1
}
