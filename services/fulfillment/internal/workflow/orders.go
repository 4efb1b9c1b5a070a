package workflow

import (
	"context"
	"net/mail"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
)

const maxProjectsPerOrder = 100

// jurisdictionRE matches an ISO 3166-2 style code such as "US-CA".
var jurisdictionRE = regexp.MustCompile(`^[A-Z]{2}(-[A-Z0-9]{1,3})?$`)

type LicenseOrderRequest struct {
	Licensee     string   `json:"licensee"`
	Jurisdiction string   `json:"jurisdiction"`
	Email        string   `json:"email"`
	Projects     []string `json:"projects"`
}

type RelicenseOrderRequest struct {
	Sponsor      string `json:"sponsor"`
	Jurisdiction string `json:"jurisdiction"`
	Email        string `json:"email"`
	ProjectID    string `json:"projectID"`
}

func validateBuyer(v *domain.ValidationError, nameField, name, jurisdiction, email string) {
	if len(strings.TrimSpace(name)) < 3 {
		v.Add(nameField, "You must provide your legal name.")
	}
	if !jurisdictionRE.MatchString(jurisdiction) {
		v.Add("jurisdiction", "You must provide a valid jurisdiction code, like US-CA.")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		v.Add("email", "You must provide a valid e-mail address.")
	}
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

func (r LicenseOrderRequest) Validate() error {
	v := &domain.ValidationError{}
	validateBuyer(v, "licensee", r.Licensee, r.Jurisdiction, r.Email)
	switch {
	case len(r.Projects) == 0:
		v.Add("projects", "You must order at least one project.")
	case len(r.Projects) > maxProjectsPerOrder:
		v.Add("projects", "You may order at most 100 projects at once.")
	default:
		seen := map[string]bool{}
		for _, id := range r.Projects {
			if !isUUID(id) {
				v.Add("projects", "Invalid project ID: "+id)
				continue
			}
			if seen[id] {
				v.Add("projects", "Duplicate project ID: "+id)
			}
			seen[id] = true
		}
	}
	return v.OrNil()
}

func (r RelicenseOrderRequest) Validate() error {
	v := &domain.ValidationError{}
	validateBuyer(v, "sponsor", r.Sponsor, r.Jurisdiction, r.Email)
	if !isUUID(r.ProjectID) {
		v.Add("projectID", "Invalid project ID.")
	}
	return v.OrNil()
}

// PlaceLicenseOrder resolves and prices every project and writes a payable
// order. It returns the new order's identifier.
func (e *Engine) PlaceLicenseOrder(ctx context.Context, req LicenseOrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	projects, err := e.resolveProjects(ctx, req.Projects)
	if err != nil {
		return "", err
	}
	ordered := make([]domain.OrderedProject, 0, len(projects))
	for _, p := range projects {
		ordered = append(ordered, snapshot(p, p.Pricing.Private))
	}
	return e.writeOrder(ctx, domain.Order{
		Kind:         domain.OrderLicensePurchase,
		Projects:     ordered,
		Licensee:     req.Licensee,
		Jurisdiction: req.Jurisdiction,
		Email:        req.Email,
	})
}

func (e *Engine) PlaceRelicenseOrder(ctx context.Context, req RelicenseOrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	projects, err := e.resolveProjects(ctx, []string{req.ProjectID})
	if err != nil {
		return "", err
	}
	p := projects[0]
	if p.Pricing.Relicense == nil || *p.Pricing.Relicense <= 0 {
		v := &domain.ValidationError{}
		v.Add("projectID", "This project is not offered for relicensing.")
		return "", v
	}
	return e.writeOrder(ctx, domain.Order{
		Kind:         domain.OrderRelicense,
		Projects:     []domain.OrderedProject{snapshot(p, *p.Pricing.Relicense)},
		Sponsor:      req.Sponsor,
		Jurisdiction: req.Jurisdiction,
		Email:        req.Email,
	})
}

// resolveProjects reads every project. Missing projects are reported
// together, then retracted and relicensed ones.
func (e *Engine) resolveProjects(ctx context.Context, ids []string) ([]domain.Project, error) {
	var missing []string
	projects := make([]domain.Project, 0, len(ids))
	for _, id := range ids {
		p, err := e.records.Projects.Get(ctx, id)
		if err != nil {
			if domain.IsNotFound(err) {
				missing = append(missing, id)
				continue
			}
			return nil, err
		}
		projects = append(projects, p)
	}
	if len(missing) > 0 {
		return nil, &domain.NotFoundError{What: "project", IDs: missing}
	}
	if err := domain.CollectViolations(projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func snapshot(p domain.Project, price domain.Cents) domain.OrderedProject {
	return domain.OrderedProject{
		ProjectID:   p.ProjectID,
		LicensorID:  p.LicensorID,
		Homepage:    p.Homepage,
		Description: p.Description,
		Price:       price,
	}
}

func (e *Engine) writeOrder(ctx context.Context, order domain.Order) (string, error) {
	order.OrderID = e.newID()
	order.Date = e.now().UTC()
	if err := e.records.Orders.Put(ctx, order); err != nil {
		return "", err
	}
	e.logger.Info("placed order", "order_id", order.OrderID, "kind", order.Kind, "projects", len(order.Projects), "total", order.Total())
	return order.OrderID, nil
}
