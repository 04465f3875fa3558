// Package orchestrator defines the port to the workflow execution engine.
// The control plane only starts and signals runs; execution itself lives
// behind this boundary.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// StartRunInput carries everything the engine needs to begin a run.
type StartRunInput struct {
	TenantID    primitives.TenantID
	WorkspaceID primitives.WorkspaceID
	WorkflowID  primitives.WorkflowID
	RunID       primitives.RunID
	// IdempotencyKey makes the start call safe to retry. Build it with
	// StartKey so the tenant scope is always present.
	IdempotencyKey string
	Parameters     map[string]any
}

// StartKey builds the engine-side dedupe key for a run start.
func StartKey(tenant primitives.TenantID, callerKey string) string {
	return fmt.Sprintf("%s/%s", tenant, callerKey)
}

// Validate rejects incomplete inputs.
func (in StartRunInput) Validate() error {
	if in.TenantID == "" || in.WorkspaceID == "" || in.WorkflowID == "" || in.RunID == "" {
		return apperr.Validationf("start run requires tenantId, workspaceId, workflowId, and runId")
	}
	if in.IdempotencyKey == "" {
		return apperr.Validationf("start run requires an idempotency key")
	}
	return nil
}

// Orchestrator is the execution-engine port.
type Orchestrator interface {
	// StartRun begins a run. Calling it again with the same idempotency
	// key returns the original run without starting a second one.
	StartRun(ctx context.Context, in StartRunInput) (primitives.RunID, error)
	// SignalApproval delivers an approval decision to a waiting run.
	SignalApproval(ctx context.Context, tenant primitives.TenantID, run primitives.RunID, approved bool) error
	// CancelRun requests cancellation of a running run.
	CancelRun(ctx context.Context, tenant primitives.TenantID, run primitives.RunID, reason string) error
}
