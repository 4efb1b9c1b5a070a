package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/masukomi/licensezero.com/pkg/canonhash"
	"github.com/masukomi/licensezero.com/pkg/lock"
	"github.com/masukomi/licensezero.com/pkg/signature"
	"github.com/masukomi/licensezero.com/pkg/taskgraph"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/events"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/mailer"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/payment"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/render"
)

const purchaseDescriptor = "License Zero License"

// licensorGroup is the unit of one charge: every ordered project of one
// licensor, in order of appearance.
type licensorGroup struct {
	licensor   domain.Licensor
	projects   []domain.OrderedProject
	amount     domain.Cents
	commission domain.Cents

	token string
	hold  *payment.Hold

	mu        sync.Mutex
	remaining int
}

// delivered counts one delivered license and releases the hold for capture
// once the whole group is out.
func (g *licensorGroup) delivered() {
	g.mu.Lock()
	g.remaining--
	done := g.remaining == 0
	g.mu.Unlock()
	if done {
		g.hold.MarkDelivered()
	}
}

func groupByLicensor(projects []domain.OrderedProject) ([]string, map[string][]domain.OrderedProject) {
	var ids []string
	groups := map[string][]domain.OrderedProject{}
	for _, p := range projects {
		if _, ok := groups[p.LicensorID]; !ok {
			ids = append(ids, p.LicensorID)
		}
		groups[p.LicensorID] = append(groups[p.LicensorID], p)
	}
	return ids, groups
}

func purchaseFailed() Outcome {
	return technical(
		"One or more of your license purchases failed to go through, due to a technical error.",
		"Please check your e-mail for any purchases that may have completed successfully.",
	)
}

// checkProjects re-reads every ordered project under lock, so a project
// retracted or relicensed since the order was placed is caught before any
// payment call.
func (e *Engine) checkProjects(ctx context.Context, ordered []domain.OrderedProject) error {
	_, err := e.resolveProjects(ctx, projectIDs(ordered))
	return err
}

func (e *Engine) purchase(ctx context.Context, order domain.Order, paymentToken string) Outcome {
	log := e.logger.With("order_id", order.OrderID, "workflow", "purchase")
	ids, byLicensor := groupByLicensor(order.Projects)

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, lock.LicensorKey(id))
	}
	ticket, err := e.lockOrder(ctx, log, order.OrderID, keys...)
	if err != nil {
		if domain.IsNotFound(err) {
			log.Info("order settled by a concurrent payment")
			return noActiveOrder()
		}
		log.Error("acquire locks", "error", err)
		return purchaseFailed()
	}
	defer ticket.Release()

	if err := e.checkProjects(ctx, order.Projects); err != nil {
		if domain.IsNotFound(err) || domain.IsRuleViolation(err) {
			log.Info("rejected before payment", "reason", err.Error())
			return outcomeForError(err)
		}
		log.Error("read projects", "error", err)
		return purchaseFailed()
	}

	groups := make([]*licensorGroup, 0, len(ids))
	for _, id := range ids {
		licensor, err := e.records.Licensors.Get(ctx, id)
		if err != nil {
			log.Error("read licensor", "licensor_id", id, "error", err)
			return purchaseFailed()
		}
		grp := &licensorGroup{licensor: licensor, projects: byLicensor[id], remaining: len(byLicensor[id])}
		for _, p := range grp.projects {
			grp.amount += p.Price
			grp.commission += payment.PurchaseRate.Of(p.Price)
		}
		groups = append(groups, grp)
	}

	now, date := e.timestamp()
	purchaseID := e.newID()
	metadata := map[string]string{
		"orderID":      order.OrderID,
		"jurisdiction": order.Jurisdiction,
		"licensee":     order.Licensee,
		"email":        order.Email,
	}
	position := make(map[string]int, len(order.Projects))
	for i, p := range order.Projects {
		position[p.ProjectID] = i
	}
	licenses := make([]domain.License, len(order.Projects))
	var customerID string

	g := taskgraph.New()
	g.Add("create-customer", step(log, "create-customer", func(ctx context.Context) error {
		id, err := e.payments.CreateSharedCustomer(ctx, paymentToken, metadata)
		customerID = id
		return err
	}))
	g.Add("acceptance", step(log, "acceptance", func(ctx context.Context) error {
		return e.records.Acceptances.Append(ctx, domain.Acceptance{
			Type:         "license",
			Licensee:     order.Licensee,
			Jurisdiction: order.Jurisdiction,
			Email:        order.Email,
			Date:         now,
		})
	}))

	joins := []string{"acceptance"}
	for _, grp := range groups {
		lid := grp.licensor.LicensorID
		tokenStep, authStep, captureStep := "token:"+lid, "authorize:"+lid, "capture:"+lid

		g.Add(tokenStep, step(log, tokenStep, func(ctx context.Context) error {
			tok, err := e.payments.MintTransferToken(ctx, customerID, grp.licensor.StripeAccount)
			grp.token = tok
			return err
		}, "licensor_id", lid), "create-customer")

		g.Add(authStep, func(ctx context.Context) error {
			hold, err := e.payments.Authorize(ctx, payment.AuthorizeRequest{
				Token:      grp.token,
				Account:    grp.licensor.StripeAccount,
				Amount:     grp.amount,
				Commission: grp.commission,
				Descriptor: purchaseDescriptor,
				Metadata:   metadata,
			})
			if err != nil {
				return err
			}
			grp.hold = hold
			log.Info("step complete", "step", authStep, "licensor_id", lid, "charge_id", hold.ChargeID)
			return nil
		}, tokenStep)

		delivers := make([]string, 0, len(grp.projects))
		for _, p := range grp.projects {
			name := "deliver:" + lid + ":" + p.ProjectID
			g.Add(name, step(log, name, func(ctx context.Context) error {
				license, err := e.deliverLicense(ctx, order, grp, p, date)
				if err != nil {
					return err
				}
				licenses[position[p.ProjectID]] = license
				grp.delivered()
				return nil
			}, "licensor_id", lid, "project_id", p.ProjectID), authStep)
			delivers = append(delivers, name)
		}

		g.Add(captureStep, func(ctx context.Context) error {
			if err := e.payments.Capture(ctx, grp.hold); err != nil {
				return err
			}
			log.Info("step complete", "step", captureStep, "licensor_id", lid, "charge_id", grp.hold.ChargeID)
			return nil
		}, delivers...)
		joins = append(joins, captureStep)
	}

	g.Add("delete-order", step(log, "delete-order", func(ctx context.Context) error {
		return e.records.Orders.Delete(ctx, order.OrderID)
	}), joins...)
	g.Add("release-customer", step(log, "release-customer", func(ctx context.Context) error {
		return e.payments.ReleaseSharedCustomer(ctx, customerID)
	}), joins...)
	g.Add("write-purchase", step(log, "write-purchase", func(ctx context.Context) error {
		return e.records.Purchases.Put(ctx, purchaseID, domain.Purchase{Date: now, Licenses: licenses})
	}, "purchase_id", purchaseID), joins...)

	report, err := g.Run(ctx)
	if err != nil {
		log.Error("purchase failed", "error", err,
			"failed", report.Names(taskgraph.StateFailed),
			"skipped", report.Names(taskgraph.StateSkipped))
		if customerID != "" && report.State("release-customer") != taskgraph.StateSucceeded {
			if err := e.payments.ReleaseSharedCustomer(ctx, customerID); err != nil {
				log.Error("release shared customer after failure", "error", err)
			}
		}
		return purchaseFailed()
	}

	url := strings.TrimRight(e.purchaseBaseURL, "/") + "/purchases/" + purchaseID
	data := map[string]any{
		"orderID":    order.OrderID,
		"purchaseID": purchaseID,
		"projects":   projectIDs(order.Projects),
	}
	if digest, _, err := canonhash.SumObject(licenses); err == nil {
		data["bundleHash"] = digest
	} else {
		log.Warn("hash license bundle", "error", err)
	}
	e.publish(ctx, log, events.LicensePurchased, order.OrderID, data)
	return Outcome{
		Kind:    Fulfilled,
		Message: "Thank you",
		Paragraphs: []string{
			"Your purchase was successful. You will receive receipts and license files by e-mail shortly.",
			"To load all of your new licenses into the License Zero command line interface, run the following command anytime in the next twenty four hours:",
		},
		PurchaseID:    purchaseID,
		PurchaseURL:   url,
		ImportCommand: fmt.Sprintf("licensezero import --bundle %q", url),
		Licenses:      licenses,
	}
}

// deliverLicense signs one license, sends it to the buyer, records the
// signature, and sends the licensor a statement, in that order.
func (e *Engine) deliverLicense(ctx context.Context, order domain.Order, grp *licensorGroup, p domain.OrderedProject, date string) (domain.License, error) {
	terms := render.LicenseTerms{
		FORM:    render.FormPrivateLicense,
		VERSION: render.PrivateLicense.Version,
		Date:    date,
		OrderID: order.OrderID,
		Project: render.ProjectTerms{ProjectID: p.ProjectID, Description: p.Description, Homepage: p.Homepage},
		Licensee: render.LicenseeTerms{
			Name:         order.Licensee,
			Jurisdiction: order.Jurisdiction,
			Email:        order.Email,
		},
		Licensor: grp.licensor.Party(),
		Price:    p.Price,
	}
	document, err := terms.Document()
	if err != nil {
		return domain.License{}, err
	}
	license, err := signArtifact(p.ProjectID, terms, document, grp.licensor.Keys())
	if err != nil {
		return domain.License{}, err
	}

	attachment, err := json.Marshal(license)
	if err != nil {
		return domain.License{}, err
	}
	if err := e.mailer.Send(ctx, mailer.Message{
		To:         order.Email,
		Subject:    render.SubjectLicenseReceipt,
		Paragraphs: render.LicenseReceipt(order, p),
		Attachment: &mailer.Attachment{Name: p.ProjectID + ".json", Data: attachment},
	}); err != nil {
		return domain.License{}, fmt.Errorf("email license: %w", err)
	}
	if err := e.records.Signatures.Append(ctx, license.PublicKey, license.Signature); err != nil {
		return domain.License{}, fmt.Errorf("record signature: %w", err)
	}
	if err := e.mailer.Send(ctx, mailer.Message{
		To:         grp.licensor.Email,
		Subject:    render.SubjectStatement,
		Paragraphs: render.LicensorStatement(order, p, payment.PurchaseRate.Of(p.Price), license.Signature),
	}); err != nil {
		return domain.License{}, fmt.Errorf("email statement: %w", err)
	}
	return license, nil
}

// signArtifact signs manifest + "\n\n" + document, where the manifest is the
// canonical JSON of terms, and checks the result verifies.
func signArtifact(projectID string, terms any, document string, keys signature.KeyPair) (domain.License, error) {
	manifest, err := canonhash.Stringify(terms)
	if err != nil {
		return domain.License{}, fmt.Errorf("manifest: %w", err)
	}
	sig, err := signature.SignDocument(manifest, document, keys)
	if err != nil {
		return domain.License{}, fmt.Errorf("sign: %w", err)
	}
	license := domain.License{
		ProjectID: projectID,
		Manifest:  manifest,
		Document:  document,
		PublicKey: keys.PublicKey,
		Signature: sig,
	}
	if !license.Verify() {
		return domain.License{}, signature.ErrInvalidSignature
	}
	return license, nil
}

func projectIDs(projects []domain.OrderedProject) []string {
	out := make([]string, 0, len(projects))
	for _, p := range projects {
		out = append(out, p.ProjectID)
	}
	return out
}
