package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/masukomi/licensezero.com/pkg/canonhash"
	"github.com/masukomi/licensezero.com/pkg/signature"
)

func signedArtifact(t *testing.T, keys signature.KeyPair, projectID string) artifact {
	t.Helper()
	manifest, err := canonhash.Stringify(map[string]any{
		"FORM":    "private license",
		"project": map[string]any{"projectID": projectID},
	})
	if err != nil {
		t.Fatalf("Stringify: %v", err)
	}
	document := "License text for " + projectID + "\n"
	sig, err := signature.SignDocument(manifest, document, keys)
	if err != nil {
		t.Fatalf("SignDocument: %v", err)
	}
	return artifact{ProjectID: projectID, Manifest: manifest, Document: document, PublicKey: keys.PublicKey, Signature: sig}
}

func writeJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "in.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, summary) {
	t.Helper()
	var out bytes.Buffer
	code := run(args, &out)
	var s summary
	if err := json.Unmarshal(out.Bytes(), &s); err != nil {
		t.Fatalf("output is not a json summary: %q", out.String())
	}
	return code, s
}

func TestVerifyArtifactPassAndTamper(t *testing.T) {
	keys, _ := signature.GenerateKeyPair()
	a := signedArtifact(t, keys, "p1")

	code, s := runCLI(t, "verify", "--artifact", writeJSON(t, a))
	if code != 0 || s.Status != "PASS" || s.Verified != 1 {
		t.Fatalf("expected PASS, got %d %+v", code, s)
	}

	a.Document += "extra"
	code, s = runCLI(t, "verify", "--artifact", writeJSON(t, a))
	if code != 1 || s.Status != "FAIL" || !strings.Contains(s.Reason, "invalid signature") {
		t.Fatalf("expected FAIL, got %d %+v", code, s)
	}
}

func TestVerifyArtifactTrustKeys(t *testing.T) {
	keys, _ := signature.GenerateKeyPair()
	other, _ := signature.GenerateKeyPair()
	path := writeJSON(t, signedArtifact(t, keys, "p1"))

	if code, s := runCLI(t, "verify", "--artifact", path, "--trust-key", other.PublicKey); code != 1 || s.Reason != "signer is not trusted" {
		t.Fatalf("expected untrusted signer, got %d %+v", code, s)
	}
	if code, _ := runCLI(t, "verify", "--artifact", path, "--trust-key", other.PublicKey, "--trust-key", keys.PublicKey); code != 0 {
		t.Fatalf("expected trusted signer to pass, got %d", code)
	}
}

func TestVerifyArtifactRejectsSwappedProject(t *testing.T) {
	keys, _ := signature.GenerateKeyPair()
	a := signedArtifact(t, keys, "p1")
	a.ProjectID = "p2"
	if code, s := runCLI(t, "verify", "--artifact", writeJSON(t, a)); code != 1 || s.Reason != "manifest names another project" {
		t.Fatalf("expected project mismatch, got %d %+v", code, s)
	}
}

func TestVerifyBundle(t *testing.T) {
	ana, _ := signature.GenerateKeyPair()
	bob, _ := signature.GenerateKeyPair()
	b := bundle{Licenses: []artifact{signedArtifact(t, ana, "p1"), signedArtifact(t, bob, "p2")}}
	code, s := runCLI(t, "verify", "--bundle", writeJSON(t, b))
	if code != 0 || s.Verified != 2 || len(s.Projects) != 2 {
		t.Fatalf("expected both licenses verified, got %d %+v", code, s)
	}

	b.Licenses[1].Signature = b.Licenses[0].Signature
	code, s = runCLI(t, "verify", "--bundle", writeJSON(t, b))
	if code != 1 || s.Verified != 1 || !strings.HasPrefix(s.Reason, "p2:") {
		t.Fatalf("expected second license to fail, got %d %+v", code, s)
	}

	if code, _ := runCLI(t, "verify", "--bundle", writeJSON(t, bundle{})); code != 1 {
		t.Fatalf("expected empty bundle to fail")
	}
}

func TestVerifyAgreement(t *testing.T) {
	licensor, _ := signature.GenerateKeyPair()
	agent, _ := signature.GenerateKeyPair()
	text := "License Zero Relicense Agreement\n\nterms"
	lsig, _ := signature.Sign([]byte(text), licensor.PublicKey, licensor.PrivateKey)
	text += licensorBlock + signature.Lines(lsig)
	asig, _ := signature.Sign([]byte(text), agent.PublicKey, agent.PrivateKey)
	text += agentBlock + signature.Lines(asig)

	path := filepath.Join(t.TempDir(), "agreement.txt")
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if code, s := runCLI(t, "verify", "--agreement", path, "--licensor-key", licensor.PublicKey, "--agent-key", agent.PublicKey); code != 0 || s.Verified != 2 {
		t.Fatalf("expected agreement to verify, got %d %+v", code, s)
	}
	if code, s := runCLI(t, "verify", "--agreement", path, "--licensor-key", agent.PublicKey, "--agent-key", agent.PublicKey); code != 1 || !strings.HasPrefix(s.Reason, "licensor signature") {
		t.Fatalf("expected licensor signature failure, got %d %+v", code, s)
	}
}

func TestUsageErrors(t *testing.T) {
	if code, _ := runCLI(t); code != 2 {
		t.Fatalf("expected usage exit code")
	}
	if code, _ := runCLI(t, "verify"); code != 2 {
		t.Fatalf("expected usage exit code for verify without input")
	}
	if code, s := runCLI(t, "verify", "--artifact", filepath.Join(t.TempDir(), "absent.json")); code != 1 || !strings.HasPrefix(s.Reason, "read artifact failed") {
		t.Fatalf("expected read failure, got %d %+v", code, s)
	}
}

func TestKeygen(t *testing.T) {
	var out bytes.Buffer
	if code := run([]string{"keygen"}, &out); code != 0 {
		t.Fatalf("keygen exit %d", code)
	}
	var keys signature.KeyPair
	if err := json.Unmarshal(out.Bytes(), &keys); err != nil {
		t.Fatalf("keygen output: %v", err)
	}
	sig, err := signature.Sign([]byte("x"), keys.PublicKey, keys.PrivateKey)
	if err != nil || !signature.Verify([]byte("x"), sig, keys.PublicKey) {
		t.Fatalf("generated keys do not round trip: %v", err)
	}
}
