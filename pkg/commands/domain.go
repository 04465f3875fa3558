// Package commands composes the command pipeline: every state-changing
// operation runs through the same fixed step order of authorization,
// policy, rate limiting, idempotency, domain logic, evidence, events,
// cache invalidation, and orchestrator handoff.
package commands

import (
	"context"
	"time"

	"github.com/portarium/core/pkg/primitives"
)

// RunStatus is the lifecycle state of a run aggregate.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is the write-side run aggregate.
type Run struct {
	TenantID    primitives.TenantID    `json:"tenantId"`
	RunID       primitives.RunID       `json:"runId"`
	WorkspaceID primitives.WorkspaceID `json:"workspaceId"`
	WorkflowID  primitives.WorkflowID  `json:"workflowId"`
	Status      RunStatus              `json:"status"`
	Parameters  map[string]any         `json:"parameters,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// ApprovalStatus is the decision state of an approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval gates a run on a human decision.
type Approval struct {
	TenantID    primitives.TenantID    `json:"tenantId"`
	ApprovalID  primitives.ApprovalID  `json:"approvalId"`
	RunID       primitives.RunID       `json:"runId"`
	WorkspaceID primitives.WorkspaceID `json:"workspaceId"`
	Summary     string                 `json:"summary"`
	Status      ApprovalStatus         `json:"status"`
	DecidedBy   primitives.UserID      `json:"decidedBy,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// WorkItemStatus is the state of a human work item.
type WorkItemStatus string

const (
	WorkItemOpen      WorkItemStatus = "open"
	WorkItemCompleted WorkItemStatus = "completed"
)

// WorkItem is a unit of human work attached to a run.
type WorkItem struct {
	TenantID    primitives.TenantID   `json:"tenantId"`
	WorkItemID  primitives.WorkItemID `json:"workItemId"`
	RunID       primitives.RunID      `json:"runId"`
	Title       string                `json:"title"`
	Status      WorkItemStatus        `json:"status"`
	CompletedBy primitives.UserID     `json:"completedBy,omitempty"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

// Workspace is a registered connection to an external work system.
type Workspace struct {
	TenantID    primitives.TenantID    `json:"tenantId"`
	WorkspaceID primitives.WorkspaceID `json:"workspaceId"`
	Name        string                 `json:"name"`
	Vendor      string                 `json:"vendor"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Store persists the write-side aggregates. Saves are full upserts; reads
// return NotFound for absent aggregates.
type Store interface {
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, tenant primitives.TenantID, id primitives.RunID) (Run, error)

	SaveApproval(ctx context.Context, approval Approval) error
	GetApproval(ctx context.Context, tenant primitives.TenantID, id primitives.ApprovalID) (Approval, error)

	SaveWorkItem(ctx context.Context, item WorkItem) error
	GetWorkItem(ctx context.Context, tenant primitives.TenantID, id primitives.WorkItemID) (WorkItem, error)

	SaveWorkspace(ctx context.Context, ws Workspace) error
	GetWorkspace(ctx context.Context, tenant primitives.TenantID, id primitives.WorkspaceID) (Workspace, error)
}
