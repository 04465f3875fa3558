// Package projection maintains the read models consumed by queries. Each
// row carries the sequence of the event that produced it; upserts only
// apply when the incoming sequence is newer, so replaying an event stream
// from any point converges on the same state.
package projection

import (
	"context"
	"time"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// RunView is the query-side shape of a run.
type RunView struct {
	TenantID    primitives.TenantID    `json:"tenantId"`
	RunID       primitives.RunID       `json:"runId"`
	WorkspaceID primitives.WorkspaceID `json:"workspaceId"`
	WorkflowID  primitives.WorkflowID  `json:"workflowId"`
	Status      string                 `json:"status"`
	EventSeq    uint64                 `json:"eventSeq"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// WorkspaceView is the query-side shape of a workspace.
type WorkspaceView struct {
	TenantID    primitives.TenantID    `json:"tenantId"`
	WorkspaceID primitives.WorkspaceID `json:"workspaceId"`
	Name        string                 `json:"name"`
	Vendor      string                 `json:"vendor"`
	EventSeq    uint64                 `json:"eventSeq"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// Projector applies events to the read models.
type Projector interface {
	// UpsertRun applies a run state change. A sequence at or below the
	// stored one is ignored.
	UpsertRun(ctx context.Context, view RunView) error
	// UpsertWorkspace applies a workspace change with the same staleness
	// rule.
	UpsertWorkspace(ctx context.Context, view WorkspaceView) error
	// GetRun returns one run view.
	GetRun(ctx context.Context, tenant primitives.TenantID, run primitives.RunID) (RunView, error)
	// ListRuns returns the tenant's runs ordered by most recent update.
	ListRuns(ctx context.Context, tenant primitives.TenantID) ([]RunView, error)
	// ListWorkspaces returns the tenant's workspaces ordered by name.
	ListWorkspaces(ctx context.Context, tenant primitives.TenantID) ([]WorkspaceView, error)
}

func (v RunView) validate() error {
	if v.TenantID == "" || v.RunID == "" {
		return apperr.Validationf("run view requires tenantId and runId")
	}
	if v.EventSeq == 0 {
		return apperr.Validationf("run view requires a positive eventSeq")
	}
	return nil
}

func (v WorkspaceView) validate() error {
	if v.TenantID == "" || v.WorkspaceID == "" {
		return apperr.Validationf("workspace view requires tenantId and workspaceId")
	}
	if v.EventSeq == 0 {
		return apperr.Validationf("workspace view requires a positive eventSeq")
	}
	return nil
}
