package evidence

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Signer produces detached signatures over canonical entry bytes. Allows
// swapping the in-memory key for an HSM, Vault, or cloud KMS.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// SignatureVerifier checks a detached signature over canonical entry bytes.
type SignatureVerifier interface {
	Verify(msg, sig []byte) bool
}

// Ed25519Signer is an in-process Signer.
type Ed25519Signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewEd25519Signer generates a fresh random keypair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("evidence: generate signing key: %w", err)
	}
	return &Ed25519Signer{pub: pub, priv: priv}, nil
}

// NewDerivedSigner derives a deterministic keypair from a configured secret
// via HKDF-SHA256, so every replica of a deployment signs with the same key
// without shipping key files.
func NewDerivedSigner(secret []byte, info string) (*Ed25519Signer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("evidence: empty signer secret")
	}
	seed := make([]byte, ed25519.SeedSize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, fmt.Errorf("evidence: derive signing seed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

func (s *Ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey { return s.pub }

// Ed25519Verifier verifies signatures produced by an Ed25519Signer.
type Ed25519Verifier struct {
	pub ed25519.PublicKey
}

func NewEd25519Verifier(pub ed25519.PublicKey) *Ed25519Verifier {
	return &Ed25519Verifier{pub: pub}
}

func (v *Ed25519Verifier) Verify(msg, sig []byte) bool {
	return len(v.pub) == ed25519.PublicKeySize && ed25519.Verify(v.pub, msg, sig)
}
