// Package domain holds the records the fulfillment service reads and writes
// and the error kinds its operations report.
package domain

import (
	"fmt"
	"time"

	"github.com/masukomi/licensezero.com/pkg/signature"
)

type OrderKind string

const (
	OrderLicensePurchase OrderKind = "license-purchase"
	OrderRelicense       OrderKind = "relicense-sponsorship"
)

// OrderTTL is how long a placed order stays payable.
const OrderTTL = 24 * time.Hour

// Cents is an amount in United States cents.
type Cents = int64

type Pricing struct {
	Private   Cents  `json:"private"`
	Relicense *Cents `json:"relicense,omitempty"`
}

type Project struct {
	ProjectID   string     `json:"projectID"`
	LicensorID  string     `json:"licensorID"`
	Homepage    string     `json:"homepage"`
	Description string     `json:"description"`
	Pricing     Pricing    `json:"pricing"`
	Offered     time.Time  `json:"offered"`
	Retracted   bool       `json:"retracted"`
	Relicensed  *time.Time `json:"relicensed"`
}

// Orderable reports the rule a project currently breaks, if any.
func (p Project) Orderable() error {
	if p.Retracted {
		return &RuleViolation{Reason: ReasonRetracted, IDs: []string{p.ProjectID}}
	}
	if p.Relicensed != nil {
		return &RuleViolation{Reason: ReasonRelicensed, IDs: []string{p.ProjectID}}
	}
	return nil
}

type Licensor struct {
	LicensorID    string `json:"licensorID"`
	Name          string `json:"name"`
	Jurisdiction  string `json:"jurisdiction"`
	Email         string `json:"email"`
	PublicKey     string `json:"publicKey"`
	PrivateKey    string `json:"privateKey"`
	StripeAccount string `json:"stripeAccount"`
	TokenHash     string `json:"tokenHash"`
}

func (l Licensor) Keys() signature.KeyPair {
	return signature.KeyPair{PublicKey: l.PublicKey, PrivateKey: l.PrivateKey}
}

// Party is the name and jurisdiction pair that appears in document manifests.
type Party struct {
	Name         string `json:"name"`
	Jurisdiction string `json:"jurisdiction"`
}

func (l Licensor) Party() Party { return Party{Name: l.Name, Jurisdiction: l.Jurisdiction} }

// OrderedProject is a project snapshot frozen into an order at placement.
type OrderedProject struct {
	ProjectID   string `json:"projectID"`
	LicensorID  string `json:"licensorID"`
	Homepage    string `json:"homepage"`
	Description string `json:"description"`
	Price       Cents  `json:"price"`
}

type Order struct {
	OrderID      string           `json:"orderID"`
	Kind         OrderKind        `json:"kind"`
	Projects     []OrderedProject `json:"projects"`
	Licensee     string           `json:"licensee,omitempty"`
	Sponsor      string           `json:"sponsor,omitempty"`
	Jurisdiction string           `json:"jurisdiction"`
	Email        string           `json:"email"`
	Date         time.Time        `json:"date"`
}

func (o Order) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(o.Date) > ttl
}

func (o Order) Total() Cents {
	var total Cents
	for _, p := range o.Projects {
		total += p.Price
	}
	return total
}

// BuyerName is the licensee for purchases and the sponsor for relicenses.
func (o Order) BuyerName() string {
	if o.Kind == OrderRelicense {
		return o.Sponsor
	}
	return o.Licensee
}

// License is a signed artifact: a license, waiver or relicense agreement.
type License struct {
	ProjectID string `json:"projectID"`
	Manifest  string `json:"manifest"`
	Document  string `json:"document"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

func (l License) Verify() bool {
	return signature.VerifyDocument(l.Manifest, l.Document, l.Signature, l.PublicKey)
}

// Purchase is the bundle written once per fulfilled purchase order.
type Purchase struct {
	Date     time.Time `json:"date"`
	Licenses []License `json:"licenses"`
}

// ListEntry is one line of a licensor's projects list.
type ListEntry struct {
	ProjectID  string     `json:"projectID"`
	Offered    time.Time  `json:"offered"`
	Retracted  *time.Time `json:"retracted"`
	Relicensed *time.Time `json:"relicensed"`
}

type Acceptance struct {
	Type         string    `json:"type"`
	Licensee     string    `json:"licensee,omitempty"`
	Sponsor      string    `json:"sponsor,omitempty"`
	Jurisdiction string    `json:"jurisdiction"`
	Email        string    `json:"email"`
	Date         time.Time `json:"date"`
}

// FormatPrice renders cents as "$1,234.56".
func FormatPrice(amount Cents) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	dollars := fmt.Sprintf("%d", amount/100)
	for i := len(dollars) - 3; i > 0; i -= 3 {
		dollars = dollars[:i] + "," + dollars[i:]
	}
	return fmt.Sprintf("%s$%s.%02d", sign, dollars, amount%100)
}
