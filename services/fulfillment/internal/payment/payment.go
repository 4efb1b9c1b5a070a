// Package payment coordinates the shared-customer, connected-account charge
// lifecycle: one customer per order, a transfer token per licensor account,
// a held charge per licensor, and capture only once delivery has happened.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
)

var (
	ErrNotDelivered     = errors.New("payment: capture before delivery")
	ErrAlreadyCaptured  = errors.New("payment: charge already captured")
	ErrInvalidAmount    = errors.New("payment: invalid amount")
	ErrMissingAccount   = errors.New("payment: connected account required")
	ErrMissingPaySource = errors.New("payment: payment source required")
)

// ChargeRequest describes a held charge on a connected account.
type ChargeRequest struct {
	Source         string
	Account        string
	Amount         domain.Cents
	ApplicationFee domain.Cents
	Descriptor     string
	Metadata       map[string]string
}

// Gateway is the external payment API. CreateCharge must never capture.
type Gateway interface {
	CreateCustomer(ctx context.Context, source string, metadata map[string]string) (string, error)
	CreateToken(ctx context.Context, customerID, account string) (string, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (string, error)
	CaptureCharge(ctx context.Context, chargeID, account string) error
	DeleteCustomer(ctx context.Context, customerID string) error
}

// Hold is an authorized, not yet captured charge.
type Hold struct {
	ChargeID   string
	Account    string
	Amount     domain.Cents
	Commission domain.Cents

	mu        sync.Mutex
	delivered bool
	captured  bool
}

// MarkDelivered records that the documents this charge pays for went out.
func (h *Hold) MarkDelivered() {
	h.mu.Lock()
	h.delivered = true
	h.mu.Unlock()
}

func (h *Hold) Captured() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.captured
}

type Coordinator struct {
	gateway Gateway
	logger  *slog.Logger
}

func NewCoordinator(gateway Gateway, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{gateway: gateway, logger: logger}
}

func (c *Coordinator) CreateSharedCustomer(ctx context.Context, paymentToken string, metadata map[string]string) (string, error) {
	if paymentToken == "" {
		return "", ErrMissingPaySource
	}
	id, err := c.gateway.CreateCustomer(ctx, paymentToken, metadata)
	if err != nil {
		return "", fmt.Errorf("create shared customer: %w", err)
	}
	c.logger.Info("created shared customer", "customer_id", id)
	return id, nil
}

func (c *Coordinator) MintTransferToken(ctx context.Context, customerID, account string) (string, error) {
	if account == "" {
		return "", ErrMissingAccount
	}
	token, err := c.gateway.CreateToken(ctx, customerID, account)
	if err != nil {
		return "", fmt.Errorf("mint transfer token for %s: %w", account, err)
	}
	return token, nil
}

type AuthorizeRequest struct {
	Token      string
	Account    string
	Amount     domain.Cents
	Commission domain.Cents
	Descriptor string
	Metadata   map[string]string
}

// Authorize creates a held charge. The platform fee is omitted when the
// commission is zero.
func (c *Coordinator) Authorize(ctx context.Context, req AuthorizeRequest) (*Hold, error) {
	if req.Amount <= 0 || req.Commission < 0 || req.Commission > req.Amount {
		return nil, ErrInvalidAmount
	}
	if req.Account == "" {
		return nil, ErrMissingAccount
	}
	if req.Token == "" {
		return nil, ErrMissingPaySource
	}
	chargeID, err := c.gateway.CreateCharge(ctx, ChargeRequest{
		Source:         req.Token,
		Account:        req.Account,
		Amount:         req.Amount,
		ApplicationFee: req.Commission,
		Descriptor:     req.Descriptor,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("authorize charge on %s: %w", req.Account, err)
	}
	c.logger.Info("authorized charge", "charge_id", chargeID, "account", req.Account, "amount", req.Amount, "commission", req.Commission)
	return &Hold{ChargeID: chargeID, Account: req.Account, Amount: req.Amount, Commission: req.Commission}, nil
}

// Capture finalizes a hold. It refuses holds whose delivery has not been
// marked and never re-attempts a capture that already succeeded.
func (c *Coordinator) Capture(ctx context.Context, h *Hold) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.delivered {
		return ErrNotDelivered
	}
	if h.captured {
		return ErrAlreadyCaptured
	}
	if err := c.gateway.CaptureCharge(ctx, h.ChargeID, h.Account); err != nil {
		return fmt.Errorf("capture %s: %w", h.ChargeID, err)
	}
	h.captured = true
	c.logger.Info("captured charge", "charge_id", h.ChargeID, "account", h.Account)
	return nil
}

func (c *Coordinator) ReleaseSharedCustomer(ctx context.Context, customerID string) error {
	if err := c.gateway.DeleteCustomer(ctx, customerID); err != nil {
		return fmt.Errorf("delete shared customer: %w", err)
	}
	return nil
}
