// Package cache provides the read-side query cache. Keys follow the
// "<tenant>:<query>:<discriminator>" convention so a whole query family
// can be dropped with one prefix invalidation after a write.
//
// The cache is an optimization, never an authority: callers treat every
// error as a miss and fall through to the source of truth.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/portarium/core/pkg/primitives"
)

// Cache is the contract for cache backends.
type Cache interface {
	// Get returns the cached value for key, or ok=false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Invalidate removes one exact key. Removing an absent key is not an
	// error.
	Invalidate(ctx context.Context, key string) error
	// InvalidatePrefix removes every key starting with prefix.
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// ListRunsKey builds the cache key for a runs listing.
func ListRunsKey(tenant primitives.TenantID, discriminator string) string {
	return fmt.Sprintf("%s:listRuns:%s", tenant, discriminator)
}

// GetRunKey builds the cache key for a single-run lookup.
func GetRunKey(tenant primitives.TenantID, run primitives.RunID) string {
	return fmt.Sprintf("%s:getRun:%s", tenant, run)
}

// ListWorkspacesKey builds the cache key for a workspace listing.
func ListWorkspacesKey(tenant primitives.TenantID, discriminator string) string {
	return fmt.Sprintf("%s:listWorkspaces:%s", tenant, discriminator)
}

// ListApprovalsKey builds the cache key for an approvals listing.
func ListApprovalsKey(tenant primitives.TenantID, discriminator string) string {
	return fmt.Sprintf("%s:listApprovals:%s", tenant, discriminator)
}
