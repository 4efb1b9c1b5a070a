package render

import (
	"strings"
	"testing"

	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
)

func TestRenderDeterministic(t *testing.T) {
	template := "A={{a}}\nB={{ b }}   \n\n"
	values := map[string]string{"a": "x", "b": "y"}
	r1, miss1 := Render(template, values, []string{"a"})
	r2, miss2 := Render(template, values, []string{"a"})
	if len(miss1) != 0 || len(miss2) != 0 {
		t.Fatalf("expected no missing keys")
	}
	if r1 != r2 || r1 != "A=x\nB=y\n" {
		t.Fatalf("unexpected render %q", r1)
	}
}

func TestRenderReportsMissingRequired(t *testing.T) {
	_, missing := Render("{{b}} {{a}} {{c}}", map[string]string{"c": "1"}, []string{"a", "b"})
	if strings.Join(missing, ",") != "a,b" {
		t.Fatalf("unexpected missing keys: %v", missing)
	}
}

func TestLicenseDocumentIncludesTerms(t *testing.T) {
	terms := LicenseTerms{
		FORM:     FormPrivateLicense,
		VERSION:  PrivateLicense.Version,
		Date:     "2026-01-01T00:00:00Z",
		OrderID:  "o1",
		Project:  ProjectTerms{ProjectID: "p1", Description: "a library", Homepage: "https://example.com"},
		Licensee: LicenseeTerms{Name: "SomeCo, Inc.", Jurisdiction: "US-CA", Email: "buyer@example.com"},
		Licensor: domain.Party{Name: "Ana Dev", Jurisdiction: "US-NY"},
		Price:    500,
	}
	doc, err := terms.Document()
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	for _, want := range []string{"SomeCo, Inc. [US-CA]", "Ana Dev [US-NY]", "Price: $5.00", "Project: p1"} {
		if !strings.Contains(doc, want) {
			t.Fatalf("document missing %q:\n%s", want, doc)
		}
	}
	again, _ := terms.Document()
	if again != doc {
		t.Fatalf("expected deterministic document")
	}
}

func TestAgreementSignatureBlocks(t *testing.T) {
	terms := RelicenseTerms{
		Date:      "2026-01-01T00:00:00Z",
		Developer: domain.Party{Name: "Ana Dev", Jurisdiction: "US-NY"},
		Sponsor:   domain.Party{Name: "SomeCo, Inc.", Jurisdiction: "US-CA"},
		Project:   ProjectTerms{ProjectID: "p1", Homepage: "https://example.com"},
		Payment:   100000,
	}
	agreement, err := terms.Agreement()
	if err != nil {
		t.Fatalf("Agreement: %v", err)
	}
	if !strings.HasPrefix(agreement, "License Zero Relicense Agreement\n\n") {
		t.Fatalf("missing title: %q", agreement[:40])
	}
	signed := AppendSignature(agreement, "Licensor", "abcd")
	if !strings.HasSuffix(signed, "\n\nLicensor Ed25519 Signature:\n\nabcd") {
		t.Fatalf("unexpected signature block: %q", signed)
	}
}

func TestWaiverRequiresTerm(t *testing.T) {
	_, err := WaiverTerms{Date: "d", Project: ProjectTerms{ProjectID: "p", Homepage: "h"}}.Document()
	if err == nil {
		t.Fatalf("expected missing fields error")
	}
}

func TestStatementSplitsSignature(t *testing.T) {
	sig := strings.Repeat("ab", 64)
	parts := LicensorStatement(domain.Order{OrderID: "o"}, domain.OrderedProject{ProjectID: "p", Price: 500}, 25, sig)
	last := parts[len(parts)-1]
	if len(strings.Split(last, "\n")) != 4 {
		t.Fatalf("expected four signature lines, got %q", last)
	}
	if !strings.Contains(parts[3], "$4.75") {
		t.Fatalf("expected net total in statement: %q", parts[3])
	}
}
