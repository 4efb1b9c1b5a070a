package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/masukomi/licensezero.com/pkg/lock"
	"github.com/masukomi/licensezero.com/pkg/signature"
	"github.com/masukomi/licensezero.com/pkg/taskgraph"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/events"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/mailer"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/payment"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/render"
)

const relicenseDescriptor = "License Zero Relicense"

var errNoAgentKey = errors.New("agent signing key is not configured")

func relicenseFailed() Outcome {
	return technical(
		"Part of the relicense process failed to go through, due to a technical error.",
		"Please check your e-mail.",
	)
}

// signedAgreement is the agreement text with both signature blocks appended.
type signedAgreement struct {
	text              string
	licensorSignature string
	agentSignature    string
}

// signAgreement has the licensor sign the agreement, appends that block, and
// has the agent counter-sign the extended text.
func signAgreement(agreement string, licensor, agent signature.KeyPair) (signedAgreement, error) {
	licensorSig, err := signature.Sign([]byte(agreement), licensor.PublicKey, licensor.PrivateKey)
	if err != nil {
		return signedAgreement{}, fmt.Errorf("licensor signature: %w", err)
	}
	agreement = render.AppendSignature(agreement, "Licensor", signature.Lines(licensorSig))
	agentSig, err := signature.Sign([]byte(agreement), agent.PublicKey, agent.PrivateKey)
	if err != nil {
		return signedAgreement{}, fmt.Errorf("agent signature: %w", err)
	}
	agreement = render.AppendSignature(agreement, "Agent", signature.Lines(agentSig))
	return signedAgreement{text: agreement, licensorSignature: licensorSig, agentSignature: agentSig}, nil
}

func (e *Engine) relicense(ctx context.Context, order domain.Order, paymentToken string) Outcome {
	if len(order.Projects) != 1 {
		e.logger.Error("relicense order must name one project", "order_id", order.OrderID)
		return relicenseFailed()
	}
	p := order.Projects[0]
	log := e.logger.With("order_id", order.OrderID, "workflow", "relicense", "licensor_id", p.LicensorID, "project_id", p.ProjectID)

	ticket, err := e.lockOrder(ctx, log, order.OrderID, lock.LicensorKey(p.LicensorID), lock.ProjectKey(p.ProjectID))
	if err != nil {
		if domain.IsNotFound(err) {
			log.Info("order settled by a concurrent payment")
			return noActiveOrder()
		}
		log.Error("acquire locks", "error", err)
		return relicenseFailed()
	}
	defer ticket.Release()

	if err := e.checkProjects(ctx, order.Projects); err != nil {
		if domain.IsNotFound(err) || domain.IsRuleViolation(err) {
			log.Info("rejected before payment", "reason", err.Error())
			return outcomeForError(err)
		}
		log.Error("read project", "error", err)
		return relicenseFailed()
	}
	licensor, err := e.records.Licensors.Get(ctx, p.LicensorID)
	if err != nil {
		log.Error("read licensor", "error", err)
		return relicenseFailed()
	}

	now, date := e.timestamp()
	price := p.Price
	commission := payment.RelicenseRate.Of(price)
	var (
		agreement signedAgreement
		hold      *payment.Hold
	)

	g := taskgraph.New()
	g.Add("generate-agreement", step(log, "generate-agreement", func(context.Context) error {
		if e.agentKey.PublicKey == "" || e.agentKey.PrivateKey == "" {
			return errNoAgentKey
		}
		text, err := render.RelicenseTerms{
			Date:      date,
			Developer: licensor.Party(),
			Sponsor:   domain.Party{Name: order.Sponsor, Jurisdiction: order.Jurisdiction},
			Project:   render.ProjectTerms{ProjectID: p.ProjectID, Description: p.Description, Homepage: p.Homepage},
			Payment:   price,
		}.Agreement()
		if err != nil {
			return err
		}
		agreement, err = signAgreement(text, licensor.Keys(), e.agentKey)
		return err
	}))
	g.Add("authorize", func(ctx context.Context) error {
		h, err := e.payments.Authorize(ctx, payment.AuthorizeRequest{
			Token:      paymentToken,
			Account:    licensor.StripeAccount,
			Amount:     price,
			Commission: commission,
			Descriptor: relicenseDescriptor,
			Metadata: map[string]string{
				"type":         "relicense",
				"orderID":      order.OrderID,
				"jurisdiction": order.Jurisdiction,
				"email":        order.Email,
				"sponsor":      order.Sponsor,
			},
		})
		if err != nil {
			return err
		}
		hold = h
		log.Info("step complete", "step", "authorize", "charge_id", h.ChargeID)
		return nil
	}, "generate-agreement")

	g.Add("record-acceptance", step(log, "record-acceptance", func(ctx context.Context) error {
		return e.records.Acceptances.Append(ctx, domain.Acceptance{
			Type:         "relicense",
			Sponsor:      order.Sponsor,
			Jurisdiction: order.Jurisdiction,
			Email:        order.Email,
			Date:         now,
		})
	}), "authorize")
	g.Add("email-agreement", step(log, "email-agreement", func(ctx context.Context) error {
		return e.mailer.Send(ctx, mailer.Message{
			To:         order.Email,
			Cc:         []string{licensor.Email},
			Subject:    render.SubjectRelicenseAgreement,
			Paragraphs: render.RelicenseReceipt(order, p),
			Attachment: &mailer.Attachment{Name: "relicense-agreement.txt", Data: []byte(agreement.text)},
		})
	}), "authorize")
	g.Add("email-licensor", step(log, "email-licensor", func(ctx context.Context) error {
		return e.mailer.Send(ctx, mailer.Message{
			To:         licensor.Email,
			Subject:    render.SubjectRelicenseNotice,
			Paragraphs: render.RelicenseNotice(order, p, commission),
		})
	}), "authorize")
	g.Add("record-agent-signature", step(log, "record-agent-signature", func(ctx context.Context) error {
		return e.records.Signatures.Append(ctx, e.agentKey.PublicKey, agreement.agentSignature)
	}), "authorize")
	g.Add("record-licensor-signature", step(log, "record-licensor-signature", func(ctx context.Context) error {
		return e.records.Signatures.Append(ctx, licensor.PublicKey, agreement.licensorSignature)
	}), "authorize")
	// The signed agreement reaching the buyer is the delivery this charge pays for.
	g.Add("capture", func(ctx context.Context) error {
		hold.MarkDelivered()
		if err := e.payments.Capture(ctx, hold); err != nil {
			return err
		}
		log.Info("step complete", "step", "capture", "charge_id", hold.ChargeID)
		return nil
	}, "email-agreement", "record-agent-signature", "record-licensor-signature")

	g.Add("delete-order", step(log, "delete-order", func(ctx context.Context) error {
		return e.records.Orders.Delete(ctx, order.OrderID)
	}), "record-acceptance", "capture", "email-agreement", "email-licensor", "record-agent-signature", "record-licensor-signature")
	g.Add("mark-relicensed", step(log, "mark-relicensed", func(ctx context.Context) error {
		if _, err := e.records.Projects.Mutate(ctx, p.ProjectID, func(project *domain.Project) error {
			project.Relicensed = &now
			return nil
		}); err != nil {
			return err
		}
		return e.records.Lists.Update(ctx, p.LicensorID, func(entry *domain.ListEntry) {
			if entry.ProjectID == p.ProjectID && entry.Relicensed == nil {
				entry.Relicensed = &now
			}
		})
	}), "delete-order")

	report, err := g.Run(ctx)
	if err != nil {
		log.Error("relicense failed", "error", err,
			"failed", report.Names(taskgraph.StateFailed),
			"skipped", report.Names(taskgraph.StateSkipped))
		return relicenseFailed()
	}

	e.publish(ctx, log, events.ProjectRelicensed, p.ProjectID, map[string]any{
		"orderID":    order.OrderID,
		"projectID":  p.ProjectID,
		"licensorID": p.LicensorID,
		"relicensed": date,
	})
	return Outcome{
		Kind:    Fulfilled,
		Message: "Thank you",
		Paragraphs: []string{
			"Your relicense transaction processed successfully. You will receive a receipt and a signed agreement by e-mail shortly.",
			"The project licensor will receive an e-mail notification.",
		},
	}
}
