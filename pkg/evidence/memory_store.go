package evidence

import (
	"context"
	"slices"
	"sync"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// MemoryStore is an in-process Store for tests and single-node development.
// Chains are held per tenant; compare-and-append is linearized by a mutex.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[primitives.TenantID][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[primitives.TenantID][]Entry)}
}

func (s *MemoryStore) Tail(_ context.Context, tenantID primitives.TenantID) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[tenantID]
	if len(chain) == 0 {
		return Entry{}, false, nil
	}
	return chain[len(chain)-1], true, nil
}

func (s *MemoryStore) CompareAndAppend(_ context.Context, tenantID primitives.TenantID, expectedPrevHash string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[tenantID]
	tailHash := GenesisHash
	if len(chain) > 0 {
		tailHash = chain[len(chain)-1].HashSHA256
	}
	if tailHash != expectedPrevHash {
		return apperr.Conflictf("chain tail for tenant %s is %s, expected %s", tenantID, tailHash, expectedPrevHash)
	}
	s.chains[tenantID] = append(chain, entry)
	return nil
}

func (s *MemoryStore) List(_ context.Context, tenantID primitives.TenantID) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chains[tenantID]), nil
}
