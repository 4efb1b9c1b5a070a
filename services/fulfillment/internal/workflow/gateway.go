package workflow

import (
	"context"

	"github.com/masukomi/licensezero.com/pkg/webhooks"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/store"
)

// RecordGatewayEvent appends a verified gateway callback to the gateway
// event log. Expired holds are logged as warnings: they are authorizations
// whose delivery never completed.
func (e *Engine) RecordGatewayEvent(ctx context.Context, evt webhooks.Event, payloadHash string) error {
	if err := e.records.Gateway.Append(ctx, store.GatewayEvent{
		ID:          evt.ID,
		Type:        evt.Type,
		Account:     evt.Account,
		ObjectID:    evt.ObjectID,
		Created:     evt.Created,
		ReceivedAt:  e.now().UTC(),
		PayloadHash: payloadHash,
	}); err != nil {
		return err
	}
	log := e.logger.With("event_id", evt.ID, "event_type", evt.Type, "charge_id", evt.ObjectID, "account", evt.Account)
	switch evt.Type {
	case "charge.expired":
		log.Warn("held charge expired without capture")
	case "charge.refunded", "charge.captured":
		log.Info("gateway event recorded")
	default:
		log.Debug("gateway event recorded")
	}
	return nil
}
