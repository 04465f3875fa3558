package events

import (
	"context"
	"sync"
)

// Publisher hands envelopes to the delivery layer. Publish returning nil
// means the event is durably accepted, not that consumers have seen it.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// MemoryPublisher records envelopes in order, for wiring the pipeline in
// tests and single-process deployments.
type MemoryPublisher struct {
	mu        sync.Mutex
	published []Envelope
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.published = append(p.published, env)
	p.mu.Unlock()
	return nil
}

// Published returns a snapshot of everything published so far.
func (p *MemoryPublisher) Published() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Envelope, len(p.published))
	copy(out, p.published)
	return out
}
