package workflow

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/masukomi/licensezero.com/pkg/authn"
	"github.com/masukomi/licensezero.com/pkg/lock"
	"github.com/masukomi/licensezero.com/pkg/signature"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/events"
)

const (
	minPrivatePrice domain.Cents = 50
	maxPrivatePrice domain.Cents = 100000
	minRelicense    domain.Cents = 100
	maxRelicense    domain.Cents = 100000000

	offerTerms = "I agree with the latest public terms of service."
)

type LicensorRegistration struct {
	Name          string `json:"name"`
	Jurisdiction  string `json:"jurisdiction"`
	Email         string `json:"email"`
	StripeAccount string `json:"stripeAccount"`
}

// LicensorCredentials are returned once, at registration. Only a bcrypt hash
// of Token is stored.
type LicensorCredentials struct {
	LicensorID string `json:"licensorID"`
	Token      string `json:"token"`
	PublicKey  string `json:"publicKey"`
}

func (e *Engine) RegisterLicensor(ctx context.Context, req LicensorRegistration) (LicensorCredentials, error) {
	v := &domain.ValidationError{}
	validateBuyer(v, "name", req.Name, req.Jurisdiction, req.Email)
	if !strings.HasPrefix(req.StripeAccount, "acct_") {
		v.Add("stripeAccount", "You must connect a Stripe account.")
	}
	if err := v.OrNil(); err != nil {
		return LicensorCredentials{}, err
	}
	keys, err := signature.GenerateKeyPair()
	if err != nil {
		return LicensorCredentials{}, err
	}
	token, hash, err := authn.NewToken(e.bcryptCost)
	if err != nil {
		return LicensorCredentials{}, err
	}
	licensor := domain.Licensor{
		LicensorID:    e.newID(),
		Name:          req.Name,
		Jurisdiction:  req.Jurisdiction,
		Email:         req.Email,
		PublicKey:     keys.PublicKey,
		PrivateKey:    keys.PrivateKey,
		StripeAccount: req.StripeAccount,
		TokenHash:     hash,
	}
	if err := e.records.Licensors.Put(ctx, licensor); err != nil {
		return LicensorCredentials{}, err
	}
	e.logger.Info("registered licensor", "licensor_id", licensor.LicensorID)
	return LicensorCredentials{LicensorID: licensor.LicensorID, Token: token, PublicKey: keys.PublicKey}, nil
}

// authenticate checks a licensor's API token. Unknown licensors and wrong
// tokens are indistinguishable to the caller.
func (e *Engine) authenticate(ctx context.Context, licensorID, token string) (domain.Licensor, error) {
	licensor, err := e.records.Licensors.Get(ctx, licensorID)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.Licensor{}, domain.ErrUnauthorized
		}
		return domain.Licensor{}, err
	}
	if err := authn.Check(licensor.TokenHash, token); err != nil {
		return domain.Licensor{}, domain.ErrUnauthorized
	}
	return licensor, nil
}

type OfferRequest struct {
	LicensorID  string        `json:"licensorID"`
	Token       string        `json:"token"`
	Homepage    string        `json:"homepage"`
	Description string        `json:"description"`
	Price       domain.Cents  `json:"price"`
	Relicense   *domain.Cents `json:"relicense,omitempty"`
	Terms       string        `json:"terms"`
}

func (r OfferRequest) Validate() error {
	v := &domain.ValidationError{}
	if u, err := url.Parse(r.Homepage); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		v.Add("homepage", "You must provide an http or https homepage URL.")
	}
	if r.Price < minPrivatePrice || r.Price > maxPrivatePrice {
		v.Add("price", "Private license price must be between $0.50 and $1,000.00.")
	}
	if r.Relicense != nil && (*r.Relicense < minRelicense || *r.Relicense > maxRelicense) {
		v.Add("relicense", "Relicense price must be between $1.00 and $1,000,000.00.")
	}
	if r.Terms != offerTerms {
		v.Add("terms", "You must agree to the terms of service.")
	}
	return v.OrNil()
}

// Offer lists a new project for a licensor and returns its identifier.
func (e *Engine) Offer(ctx context.Context, req OfferRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if _, err := e.authenticate(ctx, req.LicensorID, req.Token); err != nil {
		return "", err
	}
	var projectID string
	err := e.locks.Do(ctx, []string{lock.LicensorKey(req.LicensorID)}, func() error {
		now := e.now().UTC()
		project := domain.Project{
			ProjectID:   e.newID(),
			LicensorID:  req.LicensorID,
			Homepage:    req.Homepage,
			Description: req.Description,
			Pricing:     domain.Pricing{Private: req.Price, Relicense: req.Relicense},
			Offered:     now,
		}
		if err := e.records.Projects.Put(ctx, project); err != nil {
			return err
		}
		if err := e.records.Lists.Append(ctx, req.LicensorID, domain.ListEntry{ProjectID: project.ProjectID, Offered: now}); err != nil {
			return err
		}
		projectID = project.ProjectID
		return nil
	})
	if err != nil {
		return "", err
	}
	log := e.logger.With("licensor_id", req.LicensorID, "project_id", projectID)
	log.Info("offered project")
	e.publish(ctx, log, events.ProjectOffered, projectID, map[string]any{"projectID": projectID, "licensorID": req.LicensorID})
	return projectID, nil
}

type RetractRequest struct {
	LicensorID string `json:"licensorID"`
	Token      string `json:"token"`
	ProjectID  string `json:"projectID"`
}

var errNotOwner = errors.New("project belongs to another licensor")

// Retract stops a project from being ordered. Orders already placed for it
// are rejected when paid.
func (e *Engine) Retract(ctx context.Context, req RetractRequest) error {
	if _, err := e.authenticate(ctx, req.LicensorID, req.Token); err != nil {
		return err
	}
	keys := []string{lock.LicensorKey(req.LicensorID), lock.ProjectKey(req.ProjectID)}
	err := e.locks.Do(ctx, keys, func() error {
		now := e.now().UTC()
		_, err := e.records.Projects.Mutate(ctx, req.ProjectID, func(p *domain.Project) error {
			if p.LicensorID != req.LicensorID {
				return errNotOwner
			}
			p.Retracted = true
			return nil
		})
		if errors.Is(err, errNotOwner) {
			return &domain.NotFoundError{What: "project", IDs: []string{req.ProjectID}}
		}
		if err != nil {
			return err
		}
		return e.records.Lists.Update(ctx, req.LicensorID, func(entry *domain.ListEntry) {
			if entry.ProjectID == req.ProjectID && entry.Retracted == nil {
				entry.Retracted = &now
			}
		})
	})
	if err != nil {
		return err
	}
	log := e.logger.With("licensor_id", req.LicensorID, "project_id", req.ProjectID)
	log.Info("retracted project")
	e.publish(ctx, log, events.ProjectRetracted, req.ProjectID, map[string]any{"projectID": req.ProjectID, "licensorID": req.LicensorID})
	return nil
}
