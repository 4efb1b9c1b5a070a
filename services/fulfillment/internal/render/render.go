// Package render produces the plain text of the legal documents and e-mails
// the fulfillment service sends. Document text is part of what gets signed,
// so rendering must be deterministic for a given set of terms.
package render

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderRE = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Form is a versioned document template with {{placeholder}} fields.
type Form struct {
	Name     string
	Version  string
	Text     string
	Required []string
}

// Fill substitutes values into the form. Every required placeholder must
// have a non-empty value.
func (f Form) Fill(values map[string]string) (string, error) {
	rendered, missing := Render(f.Text, values, f.Required)
	if len(missing) > 0 {
		return "", fmt.Errorf("render %s: missing %s", f.Name, strings.Join(missing, ", "))
	}
	return rendered, nil
}

// Render replaces placeholders and reports required keys without a value.
// Unknown optional placeholders render empty.
func Render(templateText string, values map[string]string, required []string) (string, []string) {
	req := map[string]bool{}
	for _, k := range required {
		req[k] = true
	}
	missingSet := map[string]struct{}{}
	raw := placeholderRE.ReplaceAllStringFunc(templateText, func(m string) string {
		match := placeholderRE.FindStringSubmatch(m)
		if len(match) != 2 {
			return ""
		}
		key := match[1]
		if v, ok := values[key]; ok && v != "" {
			return v
		}
		if req[key] {
			missingSet[key] = struct{}{}
		}
		return ""
	})
	missing := make([]string, 0, len(missingSet))
	for k := range missingSet {
		missing = append(missing, k)
	}
	sort.Strings(missing)
	if len(missing) > 0 {
		return "", missing
	}
	return NormalizeText(raw), nil
}

// NormalizeText uses \n line endings, strips trailing blanks from each line,
// and ends the text with exactly one newline.
func NormalizeText(in string) string {
	s := strings.ReplaceAll(in, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n") + "\n"
}
