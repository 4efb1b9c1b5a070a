package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/masukomi/licensezero.com/pkg/lock"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/events"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/render"
)

// Term is a waiver term: "forever" or a whole number of calendar days. It
// decodes from either a JSON string or a JSON number.
type Term string

const TermForever Term = "forever"

func (t *Term) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Term(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("term must be a number of days or %q", TermForever)
	}
	*t = Term(n.String())
	return nil
}

func (t Term) valid() bool {
	if t == TermForever {
		return true
	}
	days, err := strconv.Atoi(string(t))
	return err == nil && days >= 7 && days <= 3650
}

type WaiverRequest struct {
	LicensorID   string `json:"licensorID"`
	Token        string `json:"token"`
	ProjectID    string `json:"projectID"`
	Beneficiary  string `json:"beneficiary"`
	Jurisdiction string `json:"jurisdiction"`
	Term         Term   `json:"term"`
}

func (r WaiverRequest) Validate() error {
	v := &domain.ValidationError{}
	if len(strings.TrimSpace(r.Beneficiary)) < 4 {
		v.Add("beneficiary", "You must provide the beneficiary's legal name.")
	}
	if !jurisdictionRE.MatchString(r.Jurisdiction) {
		v.Add("jurisdiction", "You must provide a valid jurisdiction code, like US-CA.")
	}
	if !r.Term.valid() {
		v.Add("term", `Term must be "forever" or between 7 and 3650 days.`)
	}
	return v.OrNil()
}

// IssueWaiver signs a waiver of a project's public license conditions on the
// licensor's behalf and records the signature.
func (e *Engine) IssueWaiver(ctx context.Context, req WaiverRequest) (domain.License, error) {
	if err := req.Validate(); err != nil {
		return domain.License{}, err
	}
	licensor, err := e.authenticate(ctx, req.LicensorID, req.Token)
	if err != nil {
		return domain.License{}, err
	}
	var waiver domain.License
	keys := []string{lock.LicensorKey(req.LicensorID), lock.ProjectKey(req.ProjectID)}
	err = e.locks.Do(ctx, keys, func() error {
		project, err := e.records.Projects.Get(ctx, req.ProjectID)
		if err != nil {
			return err
		}
		if project.LicensorID != licensor.LicensorID {
			return &domain.NotFoundError{What: "project", IDs: []string{req.ProjectID}}
		}
		if project.Retracted {
			return &domain.RuleViolation{Reason: domain.ReasonRetracted, IDs: []string{req.ProjectID}}
		}
		_, date := e.timestamp()
		terms := render.WaiverTerms{
			FORM:        render.FormWaiver,
			VERSION:     render.Waiver.Version,
			Beneficiary: domain.Party{Name: req.Beneficiary, Jurisdiction: req.Jurisdiction},
			Licensor:    licensor.Party(),
			Project:     render.ProjectTerms{ProjectID: project.ProjectID, Description: project.Description, Homepage: project.Homepage},
			Date:        date,
			Term:        string(req.Term),
		}
		document, err := terms.Document()
		if err != nil {
			return err
		}
		waiver, err = signArtifact(project.ProjectID, terms, document, licensor.Keys())
		if err != nil {
			return err
		}
		return e.records.Signatures.Append(ctx, waiver.PublicKey, waiver.Signature)
	})
	if err != nil {
		return domain.License{}, err
	}
	log := e.logger.With("licensor_id", req.LicensorID, "project_id", req.ProjectID)
	log.Info("issued waiver", "term", string(req.Term))
	e.publish(ctx, log, events.WaiverIssued, req.ProjectID, map[string]any{
		"projectID":   req.ProjectID,
		"beneficiary": req.Beneficiary,
		"term":        string(req.Term),
	})
	return waiver, nil
}
