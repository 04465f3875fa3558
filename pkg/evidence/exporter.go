package evidence

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/canonicalize"
	"github.com/portarium/core/pkg/primitives"
)

// Bundle is a sealed, portable package of one tenant's evidence chain,
// suitable for handing to an external auditor. The bundle hash covers the
// artifact manifest, and the signature covers the hash, so any artifact
// substitution is detectable offline.
type Bundle struct {
	BundleID        string              `json:"bundleId"`
	TenantID        primitives.TenantID `json:"tenantId"`
	CreatedAt       string              `json:"createdAt"`
	Artifacts       []Artifact          `json:"artifacts"`
	BundleHash      string              `json:"bundleHash"`
	PublicKeyBase64 string              `json:"publicKeyBase64,omitempty"`
	SignatureBase64 string              `json:"signatureBase64,omitempty"`
}

// Artifact is one chain entry in canonical form.
type Artifact struct {
	Name       string `json:"name"`
	Content    string `json:"content"`
	HashSHA256 string `json:"hashSha256"`
}

// Exporter seals evidence chains into signed bundles.
type Exporter struct {
	signer Signer
	now    func() time.Time
	newID  func() string
}

// NewExporter builds an exporter. The signer is required; exporting
// unsigned audit bundles is refused.
func NewExporter(signer Signer) *Exporter {
	return &Exporter{
		signer: signer,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Export seals entries (one tenant, sequence order) into a bundle.
func (e *Exporter) Export(tenantID primitives.TenantID, entries []Entry) (*Bundle, error) {
	if e.signer == nil {
		return nil, apperr.Validationf("evidence export requires a signing key")
	}
	if tenantID == "" {
		return nil, apperr.Validationf("evidence export requires a tenantId")
	}
	for _, entry := range entries {
		if entry.TenantID != tenantID {
			return nil, apperr.Validationf("entry %s belongs to tenant %s, not %s",
				entry.EvidenceID, entry.TenantID, tenantID)
		}
	}

	bundle := &Bundle{
		BundleID:        e.newID(),
		TenantID:        tenantID,
		CreatedAt:       e.now().UTC().Format(time.RFC3339Nano),
		Artifacts:       make([]Artifact, 0, len(entries)),
		PublicKeyBase64: base64.StdEncoding.EncodeToString(e.signer.PublicKey()),
	}

	for _, entry := range entries {
		content, err := canonicalize.Canonicalize(entry)
		if err != nil {
			return nil, err
		}
		bundle.Artifacts = append(bundle.Artifacts, Artifact{
			Name:       artifactName(entry.Sequence),
			Content:    string(content),
			HashSHA256: canonicalize.SHA256Hex(content),
		})
	}

	msg, err := bundle.sealable()
	if err != nil {
		return nil, err
	}
	bundle.BundleHash = canonicalize.SHA256Hex(msg)

	sig, err := e.signer.Sign(msg)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyFailure, "sign evidence bundle", err)
	}
	bundle.SignatureBase64 = base64.StdEncoding.EncodeToString(sig)
	return bundle, nil
}

// VerifyBundle checks a bundle's artifact hashes, bundle hash, and
// signature using the verifier. A nil verifier skips the signature check.
func VerifyBundle(bundle *Bundle, verifier SignatureVerifier) error {
	for i, a := range bundle.Artifacts {
		if canonicalize.SHA256Hex([]byte(a.Content)) != a.HashSHA256 {
			return apperr.Conflictf("artifact %d (%s) hash mismatch", i, a.Name)
		}
	}

	msg, err := bundle.sealable()
	if err != nil {
		return err
	}
	if canonicalize.SHA256Hex(msg) != bundle.BundleHash {
		return apperr.Conflictf("bundle hash mismatch")
	}

	if verifier != nil {
		sig, err := base64.StdEncoding.DecodeString(bundle.SignatureBase64)
		if err != nil {
			return apperr.Conflictf("bundle signature is not valid base64")
		}
		if !verifier.Verify(msg, sig) {
			return apperr.Conflictf("bundle signature verification failed")
		}
	}
	return nil
}

// sealable is the canonical manifest covered by hash and signature:
// identity fields plus artifact names and hashes, never raw content.
func (b *Bundle) sealable() ([]byte, error) {
	type manifestArtifact struct {
		Name       string `json:"name"`
		HashSHA256 string `json:"hashSha256"`
	}
	manifest := struct {
		BundleID  string              `json:"bundleId"`
		TenantID  primitives.TenantID `json:"tenantId"`
		CreatedAt string              `json:"createdAt"`
		Artifacts []manifestArtifact  `json:"artifacts"`
	}{
		BundleID:  b.BundleID,
		TenantID:  b.TenantID,
		CreatedAt: b.CreatedAt,
		Artifacts: make([]manifestArtifact, 0, len(b.Artifacts)),
	}
	for _, a := range b.Artifacts {
		manifest.Artifacts = append(manifest.Artifacts, manifestArtifact{Name: a.Name, HashSHA256: a.HashSHA256})
	}
	return canonicalize.Canonicalize(manifest)
}

func artifactName(seq uint64) string {
	return fmt.Sprintf("entry_%06d", seq)
}
