package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelicenseCommissionClamp(t *testing.T) {
	assert.EqualValues(t, 6000, RelicenseRate.Of(100000))
	assert.EqualValues(t, 60000, RelicenseRate.Of(1000000))
	assert.EqualValues(t, 60000, RelicenseRate.Of(2000000))
	assert.EqualValues(t, 12000, RelicenseRate.Of(200000))
}

func TestCommissionRoundsHalfUp(t *testing.T) {
	assert.EqualValues(t, 25, PurchaseRate.Of(500))
	assert.EqualValues(t, 3, Commission(50, 500, 5000))
	assert.EqualValues(t, 2, Commission(49, 500, 5000))
	assert.EqualValues(t, 5000, PurchaseRate.Of(500000))
	assert.EqualValues(t, 0, Commission(0, 500, 5000))
}

func TestCaptureRequiresDelivery(t *testing.T) {
	ctx := context.Background()
	gw := NewFakeGateway()
	c := NewCoordinator(gw, nil)

	cus, err := c.CreateSharedCustomer(ctx, "tok_visa", map[string]string{"orderID": "o"})
	require.NoError(t, err)
	tok, err := c.MintTransferToken(ctx, cus, "acct_1")
	require.NoError(t, err)
	hold, err := c.Authorize(ctx, AuthorizeRequest{Token: tok, Account: "acct_1", Amount: 500, Commission: 25})
	require.NoError(t, err)

	require.ErrorIs(t, c.Capture(ctx, hold), ErrNotDelivered)
	assert.NotContains(t, gw.Ops(), "CaptureCharge")

	hold.MarkDelivered()
	require.NoError(t, c.Capture(ctx, hold))
	assert.True(t, hold.Captured())
	require.ErrorIs(t, c.Capture(ctx, hold), ErrAlreadyCaptured)

	charges := gw.Charges()
	require.Len(t, charges, 1)
	assert.True(t, charges[0].Captured)
	assert.EqualValues(t, 25, charges[0].ApplicationFee)

	require.NoError(t, c.ReleaseSharedCustomer(ctx, cus))
	assert.Equal(t, 0, gw.OpenCustomers())
}

func TestAuthorizeValidatesBeforeGateway(t *testing.T) {
	ctx := context.Background()
	gw := NewFakeGateway()
	c := NewCoordinator(gw, nil)

	_, err := c.Authorize(ctx, AuthorizeRequest{Token: "tok_x", Account: "acct", Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = c.Authorize(ctx, AuthorizeRequest{Token: "tok_x", Account: "acct", Amount: 100, Commission: 200})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = c.Authorize(ctx, AuthorizeRequest{Token: "tok_x", Amount: 100})
	assert.ErrorIs(t, err, ErrMissingAccount)
	assert.Empty(t, gw.Calls())
}

func TestGatewayFailuresAreWrapped(t *testing.T) {
	gw := NewFakeGateway()
	boom := errors.New("gateway down")
	gw.FailOn["CreateCustomer"] = boom
	_, err := NewCoordinator(gw, nil).CreateSharedCustomer(context.Background(), "tok_visa", nil)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "create shared customer")
}
