package signature

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrInvalidEncoding  = errors.New("invalid encoding")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrKeyMismatch      = errors.New("private key does not match public key")
)

func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{
		PublicKey:  hex.EncodeToString(pub),
		PrivateKey: hex.EncodeToString(priv),
	}, nil
}

// Message is the byte string a document signature covers.
func Message(manifest, document string) []byte {
	return []byte(manifest + ManifestSeparator + document)
}

// Sign signs message with the given hex keys and returns a lowercase hex signature.
func Sign(message []byte, publicKeyHex, privateKeyHex string) (string, error) {
	pub, err := decodeHex(publicKeyHex, ed25519.PublicKeySize)
	if err != nil {
		return "", err
	}
	priv, err := decodeHex(privateKeyHex, ed25519.PrivateKeySize)
	if err != nil {
		return "", err
	}
	derived := ed25519.PrivateKey(priv).Public().(ed25519.PublicKey)
	if !bytes.Equal(derived, pub) {
		return "", ErrKeyMismatch
	}
	return hex.EncodeToString(ed25519.Sign(ed25519.PrivateKey(priv), message)), nil
}

// Verify reports whether signatureHex is a valid signature of message under publicKeyHex.
// Malformed input verifies as false.
func Verify(message []byte, signatureHex, publicKeyHex string) bool {
	return VerifyErr(message, signatureHex, publicKeyHex) == nil
}

func VerifyErr(message []byte, signatureHex, publicKeyHex string) error {
	pub, err := decodeHex(publicKeyHex, ed25519.PublicKeySize)
	if err != nil {
		return err
	}
	sig, err := decodeHex(signatureHex, ed25519.SignatureSize)
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
		return ErrInvalidSignature
	}
	return nil
}

func SignDocument(manifest, document string, keys KeyPair) (string, error) {
	return Sign(Message(manifest, document), keys.PublicKey, keys.PrivateKey)
}

func VerifyDocument(manifest, document, signatureHex, publicKeyHex string) bool {
	return Verify(Message(manifest, document), signatureHex, publicKeyHex)
}

// Lines breaks a hex signature into 32-character lines for inclusion in
// e-mail and agreement text.
func Lines(signatureHex string) string {
	const width = 32
	var parts []string
	for len(signatureHex) > width {
		parts = append(parts, signatureHex[:width])
		signatureHex = signatureHex[width:]
	}
	parts = append(parts, signatureHex)
	return strings.Join(parts, "\n")
}

func decodeHex(s string, size int) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" || s != strings.ToLower(s) {
		return nil, ErrInvalidEncoding
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != size {
		return nil, ErrInvalidEncoding
	}
	return b, nil
}
