// Package evidence implements the per-tenant append-only, hash-chained
// evidence ledger. Entries are written once and never updated or deleted;
// each entry embeds the SHA-256 of its predecessor so retroactive tampering
// or reordering is detectable by replay.
package evidence

import (
	"strings"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// GenesisHash is the previousHash sentinel carried by the first entry of
// every tenant chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Category classifies an evidence entry.
type Category string

const (
	CategoryAction       Category = "Action"
	CategoryApproval     Category = "Approval"
	CategoryPolicyDenied Category = "PolicyDenied"
	CategorySystem       Category = "System"
)

// ActorKind distinguishes who produced an entry.
type ActorKind string

const (
	ActorUser   ActorKind = "User"
	ActorAgent  ActorKind = "Agent"
	ActorRobot  ActorKind = "Robot"
	ActorSystem ActorKind = "System"
)

// Actor records who caused the evidenced mutation.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

// Entry is a single immutable link in a tenant's evidence chain.
//
// HashSHA256 is the SHA-256 of the RFC 8785 canonical form of the entry
// without HashSHA256 and SignatureBase64. PreviousHash is the HashSHA256 of
// the immediately preceding entry for the same tenant, or GenesisHash for
// the first entry. OccurredAt is kept as an RFC 3339 string so the hashed
// form is a plain JSON value.
type Entry struct {
	EvidenceID      primitives.EvidenceID    `json:"evidenceId"`
	Sequence        uint64                   `json:"sequence"`
	TenantID        primitives.TenantID      `json:"tenantId"`
	Category        Category                 `json:"category"`
	Actor           Actor                    `json:"actor"`
	Summary         string                   `json:"summary"`
	Payload         map[string]any           `json:"payload,omitempty"`
	PayloadRef      string                   `json:"payloadRef,omitempty"`
	CorrelationID   primitives.CorrelationID `json:"correlationId"`
	OccurredAt      string                   `json:"occurredAt"`
	PreviousHash    string                   `json:"previousHash"`
	HashSHA256      string                   `json:"hashSha256"`
	SignatureBase64 string                   `json:"signatureBase64,omitempty"`
}

// hashable returns the view of the entry that is canonicalized and hashed:
// every field except HashSHA256 and SignatureBase64.
func (e Entry) hashable() any {
	return struct {
		EvidenceID    primitives.EvidenceID    `json:"evidenceId"`
		Sequence      uint64                   `json:"sequence"`
		TenantID      primitives.TenantID      `json:"tenantId"`
		Category      Category                 `json:"category"`
		Actor         Actor                    `json:"actor"`
		Summary       string                   `json:"summary"`
		Payload       map[string]any           `json:"payload,omitempty"`
		PayloadRef    string                   `json:"payloadRef,omitempty"`
		CorrelationID primitives.CorrelationID `json:"correlationId"`
		OccurredAt    string                   `json:"occurredAt"`
		PreviousHash  string                   `json:"previousHash"`
	}{
		EvidenceID:    e.EvidenceID,
		Sequence:      e.Sequence,
		TenantID:      e.TenantID,
		Category:      e.Category,
		Actor:         e.Actor,
		Summary:       e.Summary,
		Payload:       e.Payload,
		PayloadRef:    e.PayloadRef,
		CorrelationID: e.CorrelationID,
		OccurredAt:    e.OccurredAt,
		PreviousHash:  e.PreviousHash,
	}
}

// Draft is the caller-supplied part of an entry before chaining.
type Draft struct {
	Category      Category
	Actor         Actor
	Summary       string
	Payload       map[string]any
	PayloadRef    string
	CorrelationID primitives.CorrelationID
}

func (d Draft) validate() error {
	switch d.Category {
	case CategoryAction, CategoryApproval, CategoryPolicyDenied, CategorySystem:
	default:
		return apperr.Validationf("unknown evidence category %q", d.Category)
	}
	switch d.Actor.Kind {
	case ActorUser, ActorAgent, ActorRobot, ActorSystem:
	default:
		return apperr.Validationf("unknown actor kind %q", d.Actor.Kind)
	}
	if strings.TrimSpace(d.Summary) == "" {
		return apperr.Validationf("evidence summary must be non-empty")
	}
	if d.CorrelationID == "" {
		return apperr.Validationf("evidence draft requires a correlationId")
	}
	return nil
}
