package workflow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/masukomi/licensezero.com/pkg/lock"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
)

// PaymentForm is what the buyer submits on the payment page.
type PaymentForm struct {
	Terms string `json:"terms"`
	Token string `json:"token"`
}

const (
	msgAcceptTerms    = "You must accept the terms to continue."
	msgProvidePayment = "You must provide payment to continue."
)

func (f PaymentForm) Validate() error {
	v := &domain.ValidationError{}
	if f.Terms != "accepted" {
		v.Add("terms", msgAcceptTerms)
	}
	if !strings.HasPrefix(f.Token, "tok_") {
		v.Add("token", msgProvidePayment)
	}
	return v.OrNil()
}

// Pay runs the fulfillment workflow for an order. An absent or expired order
// is not found; an invalid form is a user failure and leaves the order in
// place for another attempt.
func (e *Engine) Pay(ctx context.Context, orderID string, form PaymentForm) Outcome {
	log := e.logger.With("order_id", orderID)
	order, err := e.records.Orders.Get(ctx, orderID)
	if err != nil {
		if domain.IsNotFound(err) {
			log.Info("order not found or expired")
			return noActiveOrder()
		}
		log.Error("read order", "error", err)
		return outcomeForError(err)
	}
	if err := form.Validate(); err != nil {
		return outcomeForError(err)
	}
	switch order.Kind {
	case domain.OrderRelicense:
		return e.relicense(ctx, order, form.Token)
	case domain.OrderLicensePurchase:
		return e.purchase(ctx, order, form.Token)
	default:
		log.Error("unknown order kind", "kind", order.Kind)
		return technical("An internal error occurred.")
	}
}

func noActiveOrder() Outcome {
	return Outcome{Kind: NotFound, Message: "There is no active purchase at the link you reached."}
}

// lockOrder takes the order key together with keys and re-reads the order
// under them. A payment of the same order that finished while this one
// waited has deleted it, so the caller sees not found.
func (e *Engine) lockOrder(ctx context.Context, log *slog.Logger, orderID string, keys ...string) (*lock.Ticket, error) {
	ticket, err := e.locks.Acquire(ctx, append(keys, lock.OrderKey(orderID))...)
	if err != nil {
		return nil, err
	}
	log.Debug("locks held", "keys", ticket.Keys())
	if _, err := e.records.Orders.Get(ctx, orderID); err != nil {
		ticket.Release()
		return nil, err
	}
	return ticket, nil
}

func (e *Engine) GetPurchase(ctx context.Context, purchaseID string) (domain.Purchase, error) {
	return e.records.Purchases.Get(ctx, purchaseID)
}
