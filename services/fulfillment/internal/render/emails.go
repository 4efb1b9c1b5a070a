package render

import (
	"fmt"
	"strings"

	"github.com/masukomi/licensezero.com/pkg/signature"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
)

const (
	SubjectLicenseReceipt     = "License Zero Receipt and License File"
	SubjectStatement          = "License Zero Statement"
	SubjectRelicenseAgreement = "License Zero Relicense Agreement"
	SubjectRelicenseNotice    = "License Zero Relicense"
)

func priceColumn(amount domain.Cents) string {
	return fmt.Sprintf("%10s", domain.FormatPrice(amount))
}

func block(lines ...string) string { return strings.Join(lines, "\n") }

func projectBlock(p domain.OrderedProject) string {
	return block(
		"Project:      "+p.ProjectID,
		"Description:  "+p.Description,
		"Homepage:     "+p.Homepage,
	)
}

// LicenseReceipt is the buyer's e-mail for one purchased license.
func LicenseReceipt(o domain.Order, p domain.OrderedProject) []string {
	return []string{
		"Thank you for buying a license through licensezero.com.",
		"Order ID: " + o.OrderID,
		"Total: " + priceColumn(p.Price),
		"Attached is a License Zero license file for:",
		block(
			"Licensee:     "+o.Licensee,
			"Jurisdiction: "+o.Jurisdiction,
			"E-Mail:       "+o.Email,
			projectBlock(p),
		),
	}
}

// LicensorStatement tells a licensor about a license sold on their behalf.
func LicensorStatement(o domain.Order, p domain.OrderedProject, commission domain.Cents, sig string) []string {
	return []string{
		block("License Zero sold a license", "on your behalf."),
		block("Order:        "+o.OrderID, projectBlock(p)),
		block(
			"Licensee:     "+o.Licensee,
			"Jurisdiction: "+o.Jurisdiction,
			"E-Mail:       "+o.Email,
		),
		block(
			"Price:      "+priceColumn(p.Price),
			"Commission: "+priceColumn(commission),
			"Total:      "+priceColumn(p.Price-commission),
		),
		block("The Ed25519 cryptographic signature to the", "license is:"),
		signature.Lines(sig),
	}
}

func RelicenseReceipt(o domain.Order, p domain.OrderedProject) []string {
	return []string{
		"Thank you for sponsoring a relicense through licensezero.com.",
		"Order ID: " + o.OrderID,
		"Total: " + priceColumn(p.Price),
		"Attached is a signed relicense agreement for:",
		projectBlock(p),
	}
}

func RelicenseNotice(o domain.Order, p domain.OrderedProject, commission domain.Cents) []string {
	return []string{
		block("License Zero sold a relicense agreement", "on your behalf:"),
		block("Order:        "+o.OrderID, projectBlock(p)),
		block(
			"Price:      "+priceColumn(p.Price),
			"Commission: "+priceColumn(commission),
			"Total:      "+priceColumn(p.Price-commission),
		),
		block(
			"You will be copied on a message attaching",
			"the signed relicense agreement shortly.",
			"Your next steps are set out in the",
			`"Relicensing" section of the agreement.`,
		),
	}
}
