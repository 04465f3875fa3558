// Package primitives defines the opaque identifier types and the immutable
// per-request context shared across the control plane. Identifiers of
// different kinds are distinct named types, so a RunID is never accepted
// where a WorkspaceID is expected even though both are strings at rest.
package primitives

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/portarium/core/pkg/apperr"
)

// maxIDLen bounds identifier length; anything longer is rejected at parse.
const maxIDLen = 200

// TenantID identifies a tenant (strict isolation boundary).
type TenantID string

// WorkspaceID identifies a workspace within a tenant.
type WorkspaceID string

// RunID identifies a single workflow execution.
type RunID string

// UserID identifies a human or machine principal.
type UserID string

// ApprovalID identifies an approval request.
type ApprovalID string

// WorkItemID identifies a cross-system work item.
type WorkItemID string

// WorkflowID identifies a workflow definition.
type WorkflowID string

// CorrelationID links events and evidence across aggregates.
type CorrelationID string

// EvidenceID identifies an evidence ledger entry.
type EvidenceID string

// ArtifactID identifies an immutable WORM payload.
type ArtifactID string

func (id TenantID) String() string      { return string(id) }
func (id WorkspaceID) String() string   { return string(id) }
func (id RunID) String() string         { return string(id) }
func (id UserID) String() string        { return string(id) }
func (id ApprovalID) String() string    { return string(id) }
func (id WorkItemID) String() string    { return string(id) }
func (id WorkflowID) String() string    { return string(id) }
func (id CorrelationID) String() string { return string(id) }
func (id EvidenceID) String() string    { return string(id) }
func (id ArtifactID) String() string    { return string(id) }

// parseID validates and NFC-normalizes a raw identifier value.
func parseID(kind, raw string) (string, error) {
	v := norm.NFC.String(strings.TrimSpace(raw))
	if v == "" {
		return "", apperr.Validationf("%s must be a non-empty string", kind)
	}
	if len([]rune(v)) > maxIDLen {
		return "", apperr.Validationf("%s exceeds %d characters", kind, maxIDLen)
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return "", apperr.Validationf("%s contains control characters", kind)
		}
	}
	return v, nil
}

// ParseTenantID validates a raw tenant identifier.
func ParseTenantID(raw string) (TenantID, error) {
	v, err := parseID("tenantId", raw)
	return TenantID(v), err
}

// ParseWorkspaceID validates a raw workspace identifier.
func ParseWorkspaceID(raw string) (WorkspaceID, error) {
	v, err := parseID("workspaceId", raw)
	return WorkspaceID(v), err
}

// ParseRunID validates a raw run identifier.
func ParseRunID(raw string) (RunID, error) {
	v, err := parseID("runId", raw)
	return RunID(v), err
}

// ParseUserID validates a raw user identifier.
func ParseUserID(raw string) (UserID, error) {
	v, err := parseID("userId", raw)
	return UserID(v), err
}

// ParseApprovalID validates a raw approval identifier.
func ParseApprovalID(raw string) (ApprovalID, error) {
	v, err := parseID("approvalId", raw)
	return ApprovalID(v), err
}

// ParseWorkItemID validates a raw work item identifier.
func ParseWorkItemID(raw string) (WorkItemID, error) {
	v, err := parseID("workItemId", raw)
	return WorkItemID(v), err
}

// ParseWorkflowID validates a raw workflow identifier.
func ParseWorkflowID(raw string) (WorkflowID, error) {
	v, err := parseID("workflowId", raw)
	return WorkflowID(v), err
}

// ParseCorrelationID validates a raw correlation identifier.
func ParseCorrelationID(raw string) (CorrelationID, error) {
	v, err := parseID("correlationId", raw)
	return CorrelationID(v), err
}

// ParseEvidenceID validates a raw evidence identifier.
func ParseEvidenceID(raw string) (EvidenceID, error) {
	v, err := parseID("evidenceId", raw)
	return EvidenceID(v), err
}

// ParseArtifactID validates a raw artifact identifier.
func ParseArtifactID(raw string) (ArtifactID, error) {
	v, err := parseID("artifactId", raw)
	return ArtifactID(v), err
}
