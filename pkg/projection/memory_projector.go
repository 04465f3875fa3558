package projection

import (
	"context"
	"sort"
	"sync"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// MemoryProjector keeps read models in process memory.
type MemoryProjector struct {
	mu         sync.RWMutex
	runs       map[primitives.TenantID]map[primitives.RunID]RunView
	workspaces map[primitives.TenantID]map[primitives.WorkspaceID]WorkspaceView
}

// NewMemoryProjector creates empty read models.
func NewMemoryProjector() *MemoryProjector {
	return &MemoryProjector{
		runs:       make(map[primitives.TenantID]map[primitives.RunID]RunView),
		workspaces: make(map[primitives.TenantID]map[primitives.WorkspaceID]WorkspaceView),
	}
}

func (p *MemoryProjector) UpsertRun(_ context.Context, view RunView) error {
	if err := view.validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	tenant := p.runs[view.TenantID]
	if tenant == nil {
		tenant = make(map[primitives.RunID]RunView)
		p.runs[view.TenantID] = tenant
	}
	if existing, ok := tenant[view.RunID]; ok && existing.EventSeq >= view.EventSeq {
		return nil
	}
	tenant[view.RunID] = view
	return nil
}

func (p *MemoryProjector) UpsertWorkspace(_ context.Context, view WorkspaceView) error {
	if err := view.validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	tenant := p.workspaces[view.TenantID]
	if tenant == nil {
		tenant = make(map[primitives.WorkspaceID]WorkspaceView)
		p.workspaces[view.TenantID] = tenant
	}
	if existing, ok := tenant[view.WorkspaceID]; ok && existing.EventSeq >= view.EventSeq {
		return nil
	}
	tenant[view.WorkspaceID] = view
	return nil
}

func (p *MemoryProjector) GetRun(_ context.Context, tenant primitives.TenantID, run primitives.RunID) (RunView, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	view, ok := p.runs[tenant][run]
	if !ok {
		return RunView{}, apperr.NotFoundf("run %s not found", run)
	}
	return view, nil
}

func (p *MemoryProjector) ListRuns(_ context.Context, tenant primitives.TenantID) ([]RunView, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]RunView, 0, len(p.runs[tenant]))
	for _, view := range p.runs[tenant] {
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}

func (p *MemoryProjector) ListWorkspaces(_ context.Context, tenant primitives.TenantID) ([]WorkspaceView, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]WorkspaceView, 0, len(p.workspaces[tenant]))
	for _, view := range p.workspaces[tenant] {
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
