package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/portarium/core/pkg/primitives"
)

// Invalidator drops the query families touched by each kind of write.
// Invalidation is best effort: a failing cache must never fail the command
// that already committed, so errors are logged and swallowed.
type Invalidator struct {
	cache  Cache
	logger *slog.Logger
}

// NewInvalidator wraps a cache with write-path invalidation helpers.
func NewInvalidator(c Cache, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{cache: c, logger: logger}
}

// OnRunChanged drops run listings and single-run lookups for the tenant.
func (i *Invalidator) OnRunChanged(ctx context.Context, tenant primitives.TenantID) {
	i.drop(ctx, fmt.Sprintf("%s:listRuns:", tenant))
	i.drop(ctx, fmt.Sprintf("%s:getRun:", tenant))
}

// OnApprovalChanged drops approval listings for the tenant. Approvals gate
// runs, so run lookups go too.
func (i *Invalidator) OnApprovalChanged(ctx context.Context, tenant primitives.TenantID) {
	i.drop(ctx, fmt.Sprintf("%s:listApprovals:", tenant))
	i.drop(ctx, fmt.Sprintf("%s:getRun:", tenant))
}

// OnWorkspaceChanged drops workspace listings for the tenant.
func (i *Invalidator) OnWorkspaceChanged(ctx context.Context, tenant primitives.TenantID) {
	i.drop(ctx, fmt.Sprintf("%s:listWorkspaces:", tenant))
}

func (i *Invalidator) drop(ctx context.Context, prefix string) {
	if i.cache == nil {
		return
	}
	if err := i.cache.InvalidatePrefix(ctx, prefix); err != nil {
		i.logger.Warn("cache invalidation failed", "prefix", prefix, "error", err)
	}
}
