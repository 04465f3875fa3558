package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/portarium/core/pkg/primitives"
)

type windowCounter struct {
	start time.Time
	count int
}

// MemoryLimiter keeps per-(tenant, command) window counters in process
// memory. Counters from finished windows are replaced lazily on the next
// hit for the same key.
type MemoryLimiter struct {
	mu       sync.Mutex
	counters map[string]windowCounter
	now      func() time.Time
}

// NewMemoryLimiter creates an in-memory fixed-window limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{counters: make(map[string]windowCounter), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, tenant primitives.TenantID, command string, rule Rule) (Decision, error) {
	if err := rule.Validate(); err != nil {
		return Decision{}, err
	}
	now := l.now()
	start := windowStart(now, rule.Window)
	key := fmt.Sprintf("%s:%s", tenant, command)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok || !c.start.Equal(start) {
		c = windowCounter{start: start}
	}

	resetsAt := start.Add(rule.Window)
	if c.count >= rule.Limit {
		l.counters[key] = c
		return Decision{Allowed: false, Remaining: 0, ResetsAt: resetsAt}, nil
	}
	c.count++
	l.counters[key] = c
	return Decision{Allowed: true, Remaining: rule.Limit - c.count, ResetsAt: resetsAt}, nil
}
