package payment

import (
	"context"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeGateway implements Gateway with Stripe shared customers and
// Connect charges created on the licensor's account.
type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api}
}

func (s *StripeGateway) CreateCustomer(ctx context.Context, source string, metadata map[string]string) (string, error) {
	params := &stripe.CustomerParams{Source: stripe.String(source)}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	cus, err := s.api.Customers.New(params)
	if err != nil {
		return "", err
	}
	return cus.ID, nil
}

func (s *StripeGateway) CreateToken(ctx context.Context, customerID, account string) (string, error) {
	params := &stripe.TokenParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.SetStripeAccount(account)
	tok, err := s.api.Tokens.New(params)
	if err != nil {
		return "", err
	}
	return tok.ID, nil
}

func (s *StripeGateway) CreateCharge(ctx context.Context, req ChargeRequest) (string, error) {
	params := &stripe.ChargeParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		Capture:  stripe.Bool(false),
	}
	if req.Descriptor != "" {
		params.StatementDescriptor = stripe.String(req.Descriptor)
	}
	if req.ApplicationFee > 0 {
		params.ApplicationFeeAmount = stripe.Int64(req.ApplicationFee)
	}
	if err := params.SetSource(req.Source); err != nil {
		return "", err
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetStripeAccount(req.Account)
	ch, err := s.api.Charges.New(params)
	if err != nil {
		return "", err
	}
	return ch.ID, nil
}

func (s *StripeGateway) CaptureCharge(ctx context.Context, chargeID, account string) error {
	params := &stripe.ChargeCaptureParams{}
	params.Context = ctx
	params.SetStripeAccount(account)
	_, err := s.api.Charges.Capture(chargeID, params)
	return err
}

func (s *StripeGateway) DeleteCustomer(ctx context.Context, customerID string) error {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	_, err := s.api.Customers.Del(customerID, params)
	return err
}
