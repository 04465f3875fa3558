package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// Signal records one approval decision delivered to a run.
type Signal struct {
	RunID    primitives.RunID
	Approved bool
}

// MemoryOrchestrator is an in-process engine stand-in. It records starts
// and signals so tests and single-node deployments can observe them, and
// dedupes starts by idempotency key the way a real engine would.
type MemoryOrchestrator struct {
	mu      sync.Mutex
	byKey   map[string]primitives.RunID
	running map[primitives.RunID]bool
	signals []Signal
	cancels map[primitives.RunID]string
}

// NewMemoryOrchestrator creates an empty in-memory engine.
func NewMemoryOrchestrator() *MemoryOrchestrator {
	return &MemoryOrchestrator{
		byKey:   make(map[string]primitives.RunID),
		running: make(map[primitives.RunID]bool),
		cancels: make(map[primitives.RunID]string),
	}
}

func (o *MemoryOrchestrator) StartRun(_ context.Context, in StartRunInput) (primitives.RunID, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.byKey[in.IdempotencyKey]; ok {
		return existing, nil
	}
	o.byKey[in.IdempotencyKey] = in.RunID
	o.running[in.RunID] = true
	return in.RunID, nil
}

func (o *MemoryOrchestrator) SignalApproval(_ context.Context, tenant primitives.TenantID, run primitives.RunID, approved bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running[run] {
		return apperr.NotFoundf("run %s is not active", run)
	}
	o.signals = append(o.signals, Signal{RunID: run, Approved: approved})
	return nil
}

func (o *MemoryOrchestrator) CancelRun(_ context.Context, tenant primitives.TenantID, run primitives.RunID, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running[run] {
		return apperr.NotFoundf("run %s is not active", run)
	}
	delete(o.running, run)
	o.cancels[run] = reason
	return nil
}

// Signals returns the approval signals delivered so far.
func (o *MemoryOrchestrator) Signals() []Signal {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Signal, len(o.signals))
	copy(out, o.signals)
	return out
}

// StartedRuns reports how many distinct runs have been started.
func (o *MemoryOrchestrator) StartedRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.byKey)
}

// CancelReason returns the recorded cancellation reason for a run.
func (o *MemoryOrchestrator) CancelReason(run primitives.RunID) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	reason, ok := o.cancels[run]
	if !ok {
		return "", fmt.Errorf("run %s was not cancelled", run)
	}
	return reason, nil
}
