package idempotency

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Store is the contract for idempotency backends. The pipeline claims a
// key with Put before running side effects, finalizes it with Complete,
// and releases it with Release when the execution failed before any
// durable effect.
type Store interface {
	// Get returns the stored record for key, or ok=false on a miss.
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	// Put atomically stores value if the key is absent. It returns the
	// record now held for the key and whether this caller won the insert;
	// a loser receives the winner's record.
	Put(ctx context.Context, key Key, value []byte) ([]byte, bool, error)
	// Complete replaces the record held for key. Only the Put winner may
	// call it.
	Complete(ctx context.Context, key Key, value []byte) error
	// Release removes the record so a later request can claim the key.
	Release(ctx context.Context, key Key) error
}

type memoryRecord struct {
	value    []byte
	storedAt time.Time
}

// MemoryStore holds idempotency records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store. A zero ttl disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key Key) ([]byte, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	rec, ok := s.records[key.String()]
	s.mu.RUnlock()
	if !ok || s.expired(rec) {
		return nil, false, nil
	}
	return slices.Clone(rec.value), true, nil
}

func (s *MemoryStore) Put(_ context.Context, key Key, value []byte) ([]byte, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key.String()]; ok && !s.expired(rec) {
		return slices.Clone(rec.value), false, nil
	}
	s.records[key.String()] = memoryRecord{value: slices.Clone(value), storedAt: s.now()}
	return slices.Clone(value), true, nil
}

func (s *MemoryStore) Complete(_ context.Context, key Key, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.records[key.String()] = memoryRecord{value: slices.Clone(value), storedAt: s.now()}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, key.String())
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) expired(rec memoryRecord) bool {
	return s.ttl > 0 && s.now().Sub(rec.storedAt) > s.ttl
}
