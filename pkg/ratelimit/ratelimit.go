// Package ratelimit enforces fixed-window command quotas. A window is
// anchored at floor(now / size) * size, so every caller in the same
// window sees the same reset point regardless of when they first hit it.
package ratelimit

import (
	"context"
	"time"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// Rule describes one quota: at most Limit requests per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Validate rejects unusable rules.
func (r Rule) Validate() error {
	if r.Limit <= 0 {
		return apperr.Validationf("rate limit rule requires a positive limit")
	}
	if r.Window <= 0 {
		return apperr.Validationf("rate limit rule requires a positive window")
	}
	return nil
}

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetsAt  time.Time
}

// Limiter answers whether one more request fits in the current window for
// (tenant, command).
type Limiter interface {
	Allow(ctx context.Context, tenant primitives.TenantID, command string, rule Rule) (Decision, error)
}

// windowStart anchors now to its fixed window.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}
