package workflow

import (
	"errors"
	"net/http"

	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
)

type OutcomeKind string

const (
	Fulfilled       OutcomeKind = "fulfilled"
	FailedUser      OutcomeKind = "failed-user"
	NotFound        OutcomeKind = "not-found"
	FailedTechnical OutcomeKind = "failed-technical"
)

// Outcome is the terminal result of a payment. Technical failures carry
// only a generic message; the detail goes to the log.
type Outcome struct {
	Kind          OutcomeKind         `json:"outcome"`
	Message       string              `json:"message,omitempty"`
	Paragraphs    []string            `json:"paragraphs,omitempty"`
	Fields        []domain.FieldError `json:"fields,omitempty"`
	PurchaseID    string              `json:"purchaseID,omitempty"`
	PurchaseURL   string              `json:"purchaseURL,omitempty"`
	ImportCommand string              `json:"importCommand,omitempty"`
	Licenses      []domain.License    `json:"licenses,omitempty"`
}

func (o Outcome) HTTPStatus() int {
	switch o.Kind {
	case Fulfilled:
		return http.StatusOK
	case FailedUser:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

const technicalMessage = "technical error"

func technical(paragraphs ...string) Outcome {
	return Outcome{Kind: FailedTechnical, Message: technicalMessage, Paragraphs: paragraphs}
}

// outcomeForError classifies a failure that happened before any payment
// side effect.
func outcomeForError(err error) Outcome {
	var v *domain.ValidationError
	if errors.As(err, &v) {
		return Outcome{Kind: FailedUser, Message: "invalid input", Fields: v.Fields}
	}
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return Outcome{Kind: NotFound, Message: nf.Error()}
	}
	var rv *domain.RuleViolation
	if errors.As(err, &rv) {
		return Outcome{Kind: NotFound, Message: rv.Error()}
	}
	return technical("An internal error occurred.")
}
