package domain

import (
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("bad licensor credentials")

type FieldError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ValidationError carries user-correctable, per-field problems.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Name+": "+f.Message)
	}
	return "invalid input: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Add(name, message string) {
	e.Fields = append(e.Fields, FieldError{Name: name, Message: message})
}

// OrNil returns e only when it holds at least one field error.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// NotFoundError names a missing or expired record.
type NotFoundError struct {
	What string
	IDs  []string
}

func (e *NotFoundError) Error() string {
	if len(e.IDs) == 0 {
		return "no such " + e.What
	}
	return "no such " + e.What + ": " + strings.Join(e.IDs, ", ")
}

const (
	ReasonRetracted  = "retracted"
	ReasonRelicensed = "relicensed"
)

// RuleViolation reports projects that cannot be ordered, by identifier.
type RuleViolation struct {
	Reason string
	IDs    []string
}

func (e *RuleViolation) Error() string {
	return e.Reason + " projects: " + strings.Join(e.IDs, ", ")
}

// CollectViolations groups per-project rule failures into one violation per
// reason, retracted first, preserving project order.
func CollectViolations(projects []Project) error {
	var retracted, relicensed []string
	for _, p := range projects {
		switch {
		case p.Retracted:
			retracted = append(retracted, p.ProjectID)
		case p.Relicensed != nil:
			relicensed = append(relicensed, p.ProjectID)
		}
	}
	if len(retracted) > 0 {
		return &RuleViolation{Reason: ReasonRetracted, IDs: retracted}
	}
	if len(relicensed) > 0 {
		return &RuleViolation{Reason: ReasonRelicensed, IDs: relicensed}
	}
	return nil
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}

func IsRuleViolation(err error) bool {
	var v *RuleViolation
	return errors.As(err, &v)
}
