package workflows

import (
	"context"
	"sort"
	"sync"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// MemoryStore keeps definitions in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	defs map[primitives.TenantID]map[primitives.WorkflowID]Definition
}

// NewMemoryStore creates an empty definition store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{defs: make(map[primitives.TenantID]map[primitives.WorkflowID]Definition)}
}

func (s *MemoryStore) Put(_ context.Context, def Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant := s.defs[def.TenantID]
	if tenant == nil {
		tenant = make(map[primitives.WorkflowID]Definition)
		s.defs[def.TenantID] = tenant
	}
	tenant[def.WorkflowID] = def
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenant primitives.TenantID, id primitives.WorkflowID) (Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[tenant][id]
	if !ok {
		return Definition{}, apperr.NotFoundf("workflow %s not found", id)
	}
	return def, nil
}

func (s *MemoryStore) ActiveByWorkspace(_ context.Context, tenant primitives.TenantID, ws primitives.WorkspaceID) ([]Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Definition
	for _, def := range s.defs[tenant] {
		if def.WorkspaceID == ws && def.Active {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
