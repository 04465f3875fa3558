package observability

import (
	"go.opentelemetry.io/otel/attribute"
)

// Portarium semantic convention attributes.
var (
	AttrTenantID    = attribute.Key("portarium.tenant.id")
	AttrCommand     = attribute.Key("portarium.command")
	AttrRunID       = attribute.Key("portarium.run.id")
	AttrWorkspaceID = attribute.Key("portarium.workspace.id")
	AttrWorkflowID  = attribute.Key("portarium.workflow.id")
	AttrEvidenceSeq = attribute.Key("portarium.evidence.sequence")
	AttrReplayed    = attribute.Key("portarium.replayed")
)

// CommandAttributes builds the attribute set for one command invocation.
func CommandAttributes(tenant, command string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenant),
		AttrCommand.String(command),
	}
}

// RunAttributes builds the attribute set for run-scoped spans.
func RunAttributes(tenant, workspaceID, workflowID, runID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenant),
		AttrWorkspaceID.String(workspaceID),
		AttrWorkflowID.String(workflowID),
		AttrRunID.String(runID),
	}
}
