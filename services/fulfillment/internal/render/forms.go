package render

import (
	"strings"

	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
)

const (
	FormPrivateLicense = "private license"
	FormWaiver         = "waiver"
	FormRelicense      = "relicense agreement"
)

var PrivateLicense = Form{
	Name:    FormPrivateLicense,
	Version: "1.1.0",
	Required: []string{
		"date", "orderID", "projectID", "homepage", "licenseeName", "licenseeJurisdiction",
		"licensorName", "licensorJurisdiction", "price",
	},
	Text: `License Zero Private License

Version {{version}}

Date: {{date}}
Order: {{orderID}}

Licensor: {{licensorName}} [{{licensorJurisdiction}}]
Licensee: {{licenseeName}} [{{licenseeJurisdiction}}]
Project: {{projectID}}
Description: {{description}}
Homepage: {{homepage}}
Price: {{price}}

1. License. The Licensor grants the Licensee a perpetual, worldwide, non-exclusive license to use, modify and distribute the Project for any purpose, including commercial purposes, on payment of the Price.

2. Scope. This license covers the Licensee and its affiliates. It does not transfer to others.

3. No Liability. As far as the law allows, the Project comes as is, without any warranty, and the Licensor will not be liable to the Licensee for any damages related to the Project or this license.
`,
}

var Waiver = Form{
	Name:     FormWaiver,
	Version:  "1.0.0",
	Required: []string{"date", "projectID", "homepage", "beneficiaryName", "beneficiaryJurisdiction", "licensorName", "licensorJurisdiction", "term"},
	Text: `License Zero Waiver

Version {{version}}

Date: {{date}}

Licensor: {{licensorName}} [{{licensorJurisdiction}}]
Beneficiary: {{beneficiaryName}} [{{beneficiaryJurisdiction}}]
Project: {{projectID}}
Description: {{description}}
Homepage: {{homepage}}
Term: {{term}}

1. Waiver. The Licensor waives, for the Term, any right to enforce the noncommercial and reciprocal conditions of the public license of the Project against the Beneficiary.

2. No Liability. As far as the law allows, the Project comes as is, without any warranty.
`,
}

var RelicenseAgreement = Form{
	Name:     FormRelicense,
	Version:  "1.0.0",
	Required: []string{"date", "developerName", "developerJurisdiction", "sponsorName", "sponsorJurisdiction", "projectID", "homepage", "payment"},
	Text: `Date: {{date}}

Developer: {{developerName}} [{{developerJurisdiction}}]
Sponsor: {{sponsorName}} [{{sponsorJurisdiction}}]
Project: {{projectID}}
Description: {{description}}
Homepage: {{homepage}}
Payment: {{payment}}

1. Payment. The Sponsor agrees to pay the Payment through License Zero, as agent of the Developer.

2. Relicensing. Within thirty days of payment, the Developer will publish the Project under a permissive public license and stop offering private licenses for it through License Zero.

3. Agent. License Zero signs this agreement as agent of the Developer, to confirm receipt of payment and the Developer's signature.
`,
}

// LicenseTerms are the signed parameters of a private license. Their
// canonical JSON is the license manifest.
type LicenseTerms struct {
	FORM     string        `json:"FORM"`
	VERSION  string        `json:"VERSION"`
	Date     string        `json:"date"`
	OrderID  string        `json:"orderID"`
	Project  ProjectTerms  `json:"project"`
	Licensee LicenseeTerms `json:"licensee"`
	Licensor domain.Party  `json:"licensor"`
	Price    domain.Cents  `json:"price"`
}

type ProjectTerms struct {
	ProjectID   string `json:"projectID"`
	Description string `json:"description"`
	Homepage    string `json:"homepage"`
}

type LicenseeTerms struct {
	Name         string `json:"name"`
	Jurisdiction string `json:"jurisdiction"`
	Email        string `json:"email"`
}

func (t LicenseTerms) Document() (string, error) {
	return PrivateLicense.Fill(map[string]string{
		"version":              t.VERSION,
		"date":                 t.Date,
		"orderID":              t.OrderID,
		"projectID":            t.Project.ProjectID,
		"description":          t.Project.Description,
		"homepage":             t.Project.Homepage,
		"licenseeName":         t.Licensee.Name,
		"licenseeJurisdiction": t.Licensee.Jurisdiction,
		"licensorName":         t.Licensor.Name,
		"licensorJurisdiction": t.Licensor.Jurisdiction,
		"price":                domain.FormatPrice(t.Price),
	})
}

// WaiverTerms are the signed parameters of a waiver. Term is "forever" or a
// number of calendar days.
type WaiverTerms struct {
	FORM        string       `json:"FORM"`
	VERSION     string       `json:"VERSION"`
	Beneficiary domain.Party `json:"beneficiary"`
	Licensor    domain.Party `json:"licensor"`
	Project     ProjectTerms `json:"project"`
	Date        string       `json:"date"`
	Term        string       `json:"term"`
}

func (t WaiverTerms) Document() (string, error) {
	term := t.Term
	if term != "forever" {
		term += " calendar days"
	}
	return Waiver.Fill(map[string]string{
		"version":                 t.VERSION,
		"date":                    t.Date,
		"projectID":               t.Project.ProjectID,
		"description":             t.Project.Description,
		"homepage":                t.Project.Homepage,
		"beneficiaryName":         t.Beneficiary.Name,
		"beneficiaryJurisdiction": t.Beneficiary.Jurisdiction,
		"licensorName":            t.Licensor.Name,
		"licensorJurisdiction":    t.Licensor.Jurisdiction,
		"term":                    term,
	})
}

type RelicenseTerms struct {
	Date      string
	Developer domain.Party
	Sponsor   domain.Party
	Project   ProjectTerms
	Payment   domain.Cents
}

const relicenseTitle = "License Zero Relicense Agreement\n\n"

// Agreement returns the unsigned agreement text, title included.
func (t RelicenseTerms) Agreement() (string, error) {
	body, err := RelicenseAgreement.Fill(map[string]string{
		"date":                  t.Date,
		"developerName":         t.Developer.Name,
		"developerJurisdiction": t.Developer.Jurisdiction,
		"sponsorName":           t.Sponsor.Name,
		"sponsorJurisdiction":   t.Sponsor.Jurisdiction,
		"projectID":             t.Project.ProjectID,
		"description":           t.Project.Description,
		"homepage":              t.Project.Homepage,
		"payment":               domain.FormatPrice(t.Payment),
	})
	if err != nil {
		return "", err
	}
	return relicenseTitle + strings.TrimRight(body, "\n"), nil
}

// AppendSignature adds a labeled signature block to an agreement.
func AppendSignature(agreement, label, lines string) string {
	return agreement + "\n\n" + label + " Ed25519 Signature:\n\n" + lines
}
