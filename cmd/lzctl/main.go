package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/masukomi/licensezero.com/pkg/signature"
)

const usage = "usage: lzctl verify (--artifact <path> | --bundle <path> | --agreement <path> --licensor-key <hex> --agent-key <hex>) [--trust-key <hex>] | lzctl keygen"

type repeatStringFlag []string

func (r *repeatStringFlag) String() string { return strings.Join(*r, ",") }
func (r *repeatStringFlag) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	*r = append(*r, v)
	return nil
}

// artifact is a signed license or waiver as delivered to buyers.
type artifact struct {
	ProjectID string `json:"projectID"`
	Manifest  string `json:"manifest"`
	Document  string `json:"document"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

type bundle struct {
	Date     time.Time  `json:"date"`
	Licenses []artifact `json:"licenses"`
}

type summary struct {
	Status    string   `json:"status"`
	Kind      string   `json:"kind"`
	Projects  []string `json:"projects,omitempty"`
	Verified  int      `json:"verified"`
	Reason    string   `json:"reason,omitempty"`
	Timestamp string   `json:"timestamp_utc"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	if len(args) < 1 {
		writeSummary(out, summary{Status: "FAIL", Reason: usage})
		return 2
	}
	switch args[0] {
	case "verify":
		return runVerify(args[1:], out)
	case "keygen":
		keys, err := signature.GenerateKeyPair()
		if err != nil {
			writeSummary(out, summary{Status: "FAIL", Kind: "keygen", Reason: err.Error()})
			return 1
		}
		_ = json.NewEncoder(out).Encode(keys)
		return 0
	default:
		writeSummary(out, summary{Status: "FAIL", Reason: "unknown command"})
		return 2
	}
}

func runVerify(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	artifactPath := fs.String("artifact", "", "path to a license or waiver json")
	bundlePath := fs.String("bundle", "", "path to a purchase bundle json")
	agreementPath := fs.String("agreement", "", "path to a signed relicense agreement")
	licensorKey := fs.String("licensor-key", "", "licensor public key for --agreement")
	agentKey := fs.String("agent-key", "", "agent public key for --agreement")
	var trusted repeatStringFlag
	fs.Var(&trusted, "trust-key", "trusted signer public key (repeatable)")
	if err := fs.Parse(args); err != nil {
		writeSummary(out, summary{Status: "FAIL", Reason: err.Error()})
		return 2
	}

	var (
		s   summary
		err error
	)
	switch {
	case *artifactPath != "":
		s, err = verifyFile(*artifactPath, "artifact", func(raw []byte) (summary, error) { return verifyArtifact(raw, trusted) })
	case *bundlePath != "":
		s, err = verifyFile(*bundlePath, "bundle", func(raw []byte) (summary, error) { return verifyBundle(raw, trusted) })
	case *agreementPath != "":
		s, err = verifyFile(*agreementPath, "agreement", func(raw []byte) (summary, error) {
			return verifyAgreement(string(raw), *licensorKey, *agentKey)
		})
	default:
		writeSummary(out, summary{Status: "FAIL", Reason: usage})
		return 2
	}
	if err != nil {
		s.Status, s.Reason = "FAIL", err.Error()
		writeSummary(out, s)
		return 1
	}
	s.Status = "PASS"
	writeSummary(out, s)
	return 0
}

func verifyFile(path, kind string, verify func([]byte) (summary, error)) (summary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return summary{Kind: kind}, fmt.Errorf("read %s failed: %w", kind, err)
	}
	s, err := verify(raw)
	s.Kind = kind
	return s, err
}

func verifyArtifact(raw []byte, trusted []string) (summary, error) {
	var a artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return summary{}, fmt.Errorf("parse artifact: %w", err)
	}
	if err := checkArtifact(a, trusted); err != nil {
		return summary{Projects: []string{a.ProjectID}}, err
	}
	return summary{Projects: []string{a.ProjectID}, Verified: 1}, nil
}

func verifyBundle(raw []byte, trusted []string) (summary, error) {
	var b bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return summary{}, fmt.Errorf("parse bundle: %w", err)
	}
	if len(b.Licenses) == 0 {
		return summary{}, errors.New("bundle has no licenses")
	}
	s := summary{}
	for _, a := range b.Licenses {
		s.Projects = append(s.Projects, a.ProjectID)
		if err := checkArtifact(a, trusted); err != nil {
			return s, fmt.Errorf("%s: %w", a.ProjectID, err)
		}
		s.Verified++
	}
	return s, nil
}

func checkArtifact(a artifact, trusted []string) error {
	if len(trusted) > 0 && !contains(trusted, a.PublicKey) {
		return errors.New("signer is not trusted")
	}
	var manifest map[string]any
	if err := json.Unmarshal([]byte(a.Manifest), &manifest); err != nil {
		return fmt.Errorf("manifest is not json: %w", err)
	}
	if project, ok := manifest["project"].(map[string]any); ok {
		if id, _ := project["projectID"].(string); id != a.ProjectID {
			return errors.New("manifest names another project")
		}
	}
	return signature.VerifyErr(signature.Message(a.Manifest, a.Document), a.Signature, a.PublicKey)
}

const (
	licensorBlock = "\n\nLicensor Ed25519 Signature:\n\n"
	agentBlock    = "\n\nAgent Ed25519 Signature:\n\n"
)

// verifyAgreement checks both signature blocks of a relicense agreement: the
// licensor signs the agreement text, the agent signs the text including the
// licensor block.
func verifyAgreement(text, licensorKey, agentKey string) (summary, error) {
	if licensorKey == "" || agentKey == "" {
		return summary{}, errors.New("--licensor-key and --agent-key are required")
	}
	i := strings.Index(text, licensorBlock)
	j := strings.Index(text, agentBlock)
	if i < 0 || j < i {
		return summary{}, errors.New("agreement is missing a signature block")
	}
	licensorSig := strings.ReplaceAll(text[i+len(licensorBlock):j], "\n", "")
	agentSig := strings.ReplaceAll(strings.TrimSpace(text[j+len(agentBlock):]), "\n", "")
	if err := signature.VerifyErr([]byte(text[:i]), licensorSig, licensorKey); err != nil {
		return summary{}, fmt.Errorf("licensor signature: %w", err)
	}
	if err := signature.VerifyErr([]byte(text[:j]), agentSig, agentKey); err != nil {
		return summary{Verified: 1}, fmt.Errorf("agent signature: %w", err)
	}
	return summary{Verified: 2}, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func writeSummary(out io.Writer, s summary) {
	s.Timestamp = time.Now().UTC().Format(time.RFC3339)
	_ = json.NewEncoder(out).Encode(s)
}
