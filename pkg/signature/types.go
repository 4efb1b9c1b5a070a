package signature

const (
	Algorithm = "ed25519"

	// Hex lengths of the encoded forms.
	PublicKeyHexLen  = 64
	PrivateKeyHexLen = 128
	SignatureHexLen  = 128

	// ManifestSeparator joins a manifest and its rendered document in the signed message.
	ManifestSeparator = "\n\n"
)

// KeyPair holds hex-encoded Ed25519 keys. PrivateKey is the 64-byte seed||public form.
type KeyPair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}
