package workflow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/masukomi/licensezero.com/pkg/lock"
	"github.com/masukomi/licensezero.com/pkg/signature"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/events"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/mailer"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/payment"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine  *Engine
	mem     *store.MemoryBackend
	records *store.Records
	gateway *payment.FakeGateway
	mail    *mailer.Memory
	events  *events.Memory
	clock   *clock
	agent   signature.KeyPair
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c := &clock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	mem := store.NewMemoryBackend()
	records := store.NewRecords(store.New(mem), domain.OrderTTL, c.Now)
	gw := payment.NewFakeGateway()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agent, err := signature.GenerateKeyPair()
	require.NoError(t, err)
	h := &harness{
		mem:     mem,
		records: records,
		gateway: gw,
		mail:    mailer.NewMemory(),
		events:  &events.Memory{},
		clock:   c,
		agent:   agent,
	}
	h.engine, err = New(Dependencies{
		Records:         records,
		Payments:        payment.NewCoordinator(gw, logger),
		Mailer:          h.mail,
		Locks:           lock.NewManager(),
		Events:          h.events,
		Logger:          logger,
		AgentKey:        agent,
		Now:             c.Now,
		PurchaseBaseURL: "https://licensezero.test",
		BcryptCost:      bcrypt.MinCost,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) licensor(t *testing.T, email string) LicensorCredentials {
	t.Helper()
	creds, err := h.engine.RegisterLicensor(context.Background(), LicensorRegistration{
		Name:          "Ana Developer",
		Jurisdiction:  "US-NY",
		Email:         email,
		StripeAccount: "acct_" + email[:3],
	})
	require.NoError(t, err)
	return creds
}

func (h *harness) offer(t *testing.T, creds LicensorCredentials, price domain.Cents, relicense *domain.Cents) string {
	t.Helper()
	id, err := h.engine.Offer(context.Background(), OfferRequest{
		LicensorID:  creds.LicensorID,
		Token:       creds.Token,
		Homepage:    "https://example.com/project",
		Description: "a useful library",
		Price:       price,
		Relicense:   relicense,
		Terms:       offerTerms,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) order(t *testing.T, projects ...string) string {
	t.Helper()
	id, err := h.engine.PlaceLicenseOrder(context.Background(), LicenseOrderRequest{
		Licensee:     "SomeCo, Inc.",
		Jurisdiction: "US-CA",
		Email:        "buyer@example.com",
		Projects:     projects,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) relicenseOrder(t *testing.T, projectID string) string {
	t.Helper()
	id, err := h.engine.PlaceRelicenseOrder(context.Background(), RelicenseOrderRequest{
		Sponsor:      "SomeCo, Inc.",
		Jurisdiction: "US-CA",
		Email:        "sponsor@example.com",
		ProjectID:    projectID,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) hasOrder(id string) bool {
	return h.mem.Has(store.Key{Kind: store.KindOrder, ID: id})
}

func cents(v domain.Cents) *domain.Cents { return &v }

var accepted = PaymentForm{Terms: "accepted", Token: "tok_visa"}
