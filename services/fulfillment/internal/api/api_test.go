package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/masukomi/licensezero.com/pkg/signature"
	"github.com/masukomi/licensezero.com/pkg/webhooks"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/mailer"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/payment"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/store"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/workflow"
)

const webhookSecret = "whsec_test"

type server struct {
	*httptest.Server
	records *store.Records
	gateway *payment.FakeGateway
}

func newServer(t *testing.T) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	records := store.NewRecords(store.New(store.NewMemoryBackend()), domain.OrderTTL, time.Now)
	gw := payment.NewFakeGateway()
	agent, err := signature.GenerateKeyPair()
	require.NoError(t, err)
	engine, err := workflow.New(workflow.Dependencies{
		Records:    records,
		Payments:   payment.NewCoordinator(gw, logger),
		Mailer:     mailer.NewMemory(),
		Logger:     logger,
		AgentKey:   agent,
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	h := New(engine, webhooks.NewStripeVerifier(webhookSecret, webhooks.DefaultStripeTolerance), logger)
	ts := httptest.NewServer(h.Routes())
	t.Cleanup(ts.Close)
	return &server{Server: ts, records: records, gateway: gw}
}

func (s *server) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(s.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return out
}

// seed registers a licensor and offers one project at $5.00.
func (s *server) seed(t *testing.T) (creds map[string]any, projectID string) {
	t.Helper()
	resp, creds := s.postJSON(t, "/licensors", map[string]any{
		"name": "Ana Developer", "jurisdiction": "US-NY", "email": "ana@example.com", "stripeAccount": "acct_ana",
	})
	require.Equal(t, 201, resp.StatusCode, creds)
	resp, offered := s.postJSON(t, "/projects", map[string]any{
		"licensorID": creds["licensorID"], "token": creds["token"],
		"homepage": "https://example.com", "description": "lib", "price": 500,
		"terms": "I agree with the latest public terms of service.",
	})
	require.Equal(t, 201, resp.StatusCode, offered)
	return creds, offered["projectID"].(string)
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	resp, err := http.Get(s.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestOrderPayAndFetchPurchase(t *testing.T) {
	s := newServer(t)
	_, projectID := s.seed(t)

	resp, placed := s.postJSON(t, "/orders", map[string]any{
		"licensee": "SomeCo, Inc.", "jurisdiction": "US-CA", "email": "buyer@example.com",
		"projects": []string{projectID},
	})
	require.Equal(t, 201, resp.StatusCode, placed)
	location := placed["location"].(string)
	assert.Equal(t, location, resp.Header.Get("Location"))
	assert.True(t, strings.HasPrefix(location, "/pay/"))

	form := url.Values{"terms": {"accepted"}, "token": {"tok_visa"}}
	resp, err := http.PostForm(s.URL+location, form)
	require.NoError(t, err)
	out := decode(t, resp)
	require.Equal(t, 200, resp.StatusCode, out)
	assert.Equal(t, "fulfilled", out["outcome"])

	purchaseID := out["purchaseID"].(string)
	resp, err = http.Get(s.URL + "/purchases/" + purchaseID)
	require.NoError(t, err)
	bundle := decode(t, resp)
	require.Equal(t, 200, resp.StatusCode)
	assert.Len(t, bundle["licenses"], 1)

	resp, err = http.PostForm(s.URL+location, form)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode, "paid order is gone")
	_ = decode(t, resp)
}

func TestPayStatusCodes(t *testing.T) {
	s := newServer(t)
	_, projectID := s.seed(t)
	_, placed := s.postJSON(t, "/orders", map[string]any{
		"licensee": "SomeCo, Inc.", "jurisdiction": "US-CA", "email": "buyer@example.com",
		"projects": []string{projectID},
	})
	location := placed["location"].(string)

	resp, out := s.postJSON(t, location, map[string]any{"terms": "", "token": ""})
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "failed-user", out["outcome"])
	assert.Len(t, out["fields"], 2)

	resp, out = s.postJSON(t, "/pay/not-a-uuid", map[string]any{"terms": "accepted", "token": "tok_visa"})
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "not-found", out["outcome"])

	resp, _ = s.postJSON(t, "/pay/"+uuid.NewString(), map[string]any{"terms": "accepted", "token": "tok_visa"})
	assert.Equal(t, 404, resp.StatusCode)

	s.gateway.Decline["tok_declined"] = true
	resp, out = s.postJSON(t, location, map[string]any{"terms": "accepted", "token": "tok_declined"})
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, "failed-technical", out["outcome"])
}

func TestErrorClassification(t *testing.T) {
	s := newServer(t)
	creds, projectID := s.seed(t)

	resp, body := s.postJSON(t, "/orders", map[string]any{
		"licensee": "SomeCo, Inc.", "jurisdiction": "US-CA", "email": "buyer@example.com",
		"projects": []string{uuid.NewString()},
	})
	assert.Equal(t, 404, resp.StatusCode, body)

	resp, body = s.postJSON(t, "/orders", map[string]any{"licensee": "x"})
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", body["error"].(map[string]any)["code"])

	resp, _ = s.postJSON(t, "/orders", map[string]any{"unexpected": true})
	assert.Equal(t, 400, resp.StatusCode)

	resp, _ = s.postJSON(t, "/projects/"+projectID+"/retract", map[string]any{"licensorID": creds["licensorID"], "token": "wrong"})
	assert.Equal(t, 401, resp.StatusCode)

	raw, err := json.Marshal(map[string]any{"licensorID": creds["licensorID"]})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, s.URL+"/projects/"+projectID+"/retract", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds["token"].(string))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body = decode(t, resp)
	require.Equal(t, 200, resp.StatusCode, body)

	resp, body = s.postJSON(t, "/orders", map[string]any{
		"licensee": "SomeCo, Inc.", "jurisdiction": "US-CA", "email": "buyer@example.com",
		"projects": []string{projectID},
	})
	assert.Equal(t, 409, resp.StatusCode)
	assert.Equal(t, "retracted projects: "+projectID, body["error"].(map[string]any)["message"])
}

func TestWaiverEndpoint(t *testing.T) {
	s := newServer(t)
	creds, projectID := s.seed(t)
	resp, body := s.postJSON(t, "/waivers", map[string]any{
		"licensorID": creds["licensorID"], "token": creds["token"], "projectID": projectID,
		"beneficiary": "SomeCo, Inc.", "jurisdiction": "US-CA", "term": "forever",
	})
	require.Equal(t, 201, resp.StatusCode, body)
	assert.True(t, signature.VerifyDocument(body["manifest"].(string), body["document"].(string), body["signature"].(string), body["publicKey"].(string)))
}

func TestStripeWebhook(t *testing.T) {
	s := newServer(t)
	payload := []byte(`{"id":"evt_1","type":"charge.expired","account":"acct_ana","created":1700000000,"data":{"object":{"id":"ch_9"}}}`)

	post := func(header string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, s.URL+"/webhooks/stripe", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set(webhooks.StripeSignatureHeader, header)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := post(webhooks.SignStripePayload(webhookSecret, time.Now(), payload))
	body := decode(t, resp)
	require.Equal(t, 200, resp.StatusCode, body)
	assert.Equal(t, "evt_1", body["event_id"])

	resp = post(webhooks.SignStripePayload("whsec_other", time.Now(), payload))
	assert.Equal(t, 400, resp.StatusCode)
	_ = decode(t, resp)

	logged, err := s.records.Gateway.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, "ch_9", logged[0].ObjectID)
}
