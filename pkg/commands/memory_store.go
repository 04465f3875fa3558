package commands

import (
	"context"
	"sync"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

type memKey struct {
	tenant primitives.TenantID
	id     string
}

// MemoryStore keeps aggregates in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	runs       map[memKey]Run
	approvals  map[memKey]Approval
	workItems  map[memKey]WorkItem
	workspaces map[memKey]Workspace
}

// NewMemoryStore creates an empty aggregate store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:       make(map[memKey]Run),
		approvals:  make(map[memKey]Approval),
		workItems:  make(map[memKey]WorkItem),
		workspaces: make(map[memKey]Workspace),
	}
}

func (s *MemoryStore) SaveRun(_ context.Context, run Run) error {
	s.mu.Lock()
	s.runs[memKey{run.TenantID, run.RunID.String()}] = run
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, tenant primitives.TenantID, id primitives.RunID) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[memKey{tenant, id.String()}]
	if !ok {
		return Run{}, apperr.NotFoundf("run %s not found", id)
	}
	return run, nil
}

func (s *MemoryStore) SaveApproval(_ context.Context, approval Approval) error {
	s.mu.Lock()
	s.approvals[memKey{approval.TenantID, approval.ApprovalID.String()}] = approval
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetApproval(_ context.Context, tenant primitives.TenantID, id primitives.ApprovalID) (Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	approval, ok := s.approvals[memKey{tenant, id.String()}]
	if !ok {
		return Approval{}, apperr.NotFoundf("approval %s not found", id)
	}
	return approval, nil
}

func (s *MemoryStore) SaveWorkItem(_ context.Context, item WorkItem) error {
	s.mu.Lock()
	s.workItems[memKey{item.TenantID, item.WorkItemID.String()}] = item
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetWorkItem(_ context.Context, tenant primitives.TenantID, id primitives.WorkItemID) (WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.workItems[memKey{tenant, id.String()}]
	if !ok {
		return WorkItem{}, apperr.NotFoundf("work item %s not found", id)
	}
	return item, nil
}

func (s *MemoryStore) SaveWorkspace(_ context.Context, ws Workspace) error {
	s.mu.Lock()
	s.workspaces[memKey{ws.TenantID, ws.WorkspaceID.String()}] = ws
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetWorkspace(_ context.Context, tenant primitives.TenantID, id primitives.WorkspaceID) (Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[memKey{tenant, id.String()}]
	if !ok {
		return Workspace{}, apperr.NotFoundf("workspace %s not found", id)
	}
	return ws, nil
}
