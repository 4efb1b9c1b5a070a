package workflow

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masukomi/licensezero.com/pkg/webhooks"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/render"
)

func TestRegisterLicensorValidates(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.RegisterLicensor(context.Background(), LicensorRegistration{
		Name: "A", Jurisdiction: "california", Email: "not an address", StripeAccount: "x",
	})
	var v *domain.ValidationError
	require.ErrorAs(t, err, &v)
	names := []string{}
	for _, f := range v.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"name", "jurisdiction", "email", "stripeAccount"}, names)
}

func TestOfferRequiresValidToken(t *testing.T) {
	h := newHarness(t)
	ana := h.licensor(t, "ana@example.com")
	_, err := h.engine.Offer(context.Background(), OfferRequest{
		LicensorID: ana.LicensorID, Token: "wrong", Homepage: "https://example.com",
		Price: 500, Terms: offerTerms,
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.engine.Offer(context.Background(), OfferRequest{
		LicensorID: uuid.NewString(), Token: ana.Token, Homepage: "https://example.com",
		Price: 500, Terms: offerTerms,
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestOfferValidatesPricing(t *testing.T) {
	h := newHarness(t)
	ana := h.licensor(t, "ana@example.com")
	_, err := h.engine.Offer(context.Background(), OfferRequest{
		LicensorID: ana.LicensorID, Token: ana.Token, Homepage: "ftp://example.com",
		Price: 10, Relicense: cents(1), Terms: "yes",
	})
	var v *domain.ValidationError
	require.ErrorAs(t, err, &v)
	assert.Len(t, v.Fields, 4)
}

func TestRetractOtherLicensorsProjectIsNotFound(t *testing.T) {
	h := newHarness(t)
	ana := h.licensor(t, "ana@example.com")
	bob := h.licensor(t, "bob@example.com")
	projectID := h.offer(t, ana, 500, nil)

	err := h.engine.Retract(context.Background(), RetractRequest{LicensorID: bob.LicensorID, Token: bob.Token, ProjectID: projectID})
	assert.True(t, domain.IsNotFound(err), "got %v", err)

	project, err := h.records.Projects.Get(context.Background(), projectID)
	require.NoError(t, err)
	assert.False(t, project.Retracted)
}

func TestIssueWaiver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana := h.licensor(t, "ana@example.com")
	projectID := h.offer(t, ana, 500, nil)

	var req WaiverRequest
	require.NoError(t, json.Unmarshal([]byte(`{"beneficiary":"SomeCo, Inc.","jurisdiction":"US-CA","term":90}`), &req))
	req.LicensorID, req.Token, req.ProjectID = ana.LicensorID, ana.Token, projectID

	waiver, err := h.engine.IssueWaiver(ctx, req)
	require.NoError(t, err)
	assert.True(t, waiver.Verify())
	var manifest render.WaiverTerms
	require.NoError(t, json.Unmarshal([]byte(waiver.Manifest), &manifest))
	assert.Equal(t, render.FormWaiver, manifest.FORM)
	assert.Equal(t, "90", manifest.Term)
	ok, err := h.records.Signatures.Contains(ctx, waiver.PublicKey, waiver.Signature)
	require.NoError(t, err)
	assert.True(t, ok)

	req.Term = TermForever
	forever, err := h.engine.IssueWaiver(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, forever.Manifest, `"term":"forever"`)

	req.Token = "wrong"
	_, err = h.engine.IssueWaiver(ctx, req)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	req.Token = ana.Token
	req.Term = "3"
	_, err = h.engine.IssueWaiver(ctx, req)
	var v *domain.ValidationError
	require.ErrorAs(t, err, &v)

	req.Term = TermForever
	require.NoError(t, h.engine.Retract(ctx, RetractRequest{LicensorID: ana.LicensorID, Token: ana.Token, ProjectID: projectID}))
	_, err = h.engine.IssueWaiver(ctx, req)
	assert.True(t, domain.IsRuleViolation(err), "got %v", err)
	assert.Empty(t, h.gateway.Calls())
}

func TestTermRejectsObjects(t *testing.T) {
	var term Term
	err := json.Unmarshal([]byte(`{"days":3}`), &term)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forever")
}

func TestRecordGatewayEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	evt := webhooks.Event{ID: "evt_1", Type: "charge.expired", Account: "acct_ana", ObjectID: "ch_1", Created: h.clock.Now()}
	require.NoError(t, h.engine.RecordGatewayEvent(ctx, evt, webhooks.PayloadHash([]byte("{}"))))

	logged, err := h.records.Gateway.Read(ctx)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, "ch_1", logged[0].ObjectID)
	assert.Equal(t, h.clock.Now(), logged[0].ReceivedAt)
	assert.Contains(t, logged[0].PayloadHash, "sha256:")
}
