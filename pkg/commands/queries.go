package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/authz"
	"github.com/portarium/core/pkg/cache"
	"github.com/portarium/core/pkg/evidence"
	"github.com/portarium/core/pkg/primitives"
	"github.com/portarium/core/pkg/projection"
)

// Queries serves the read side. Reads are cache-aside: the cache is
// consulted first and any cache failure is treated as a miss against the
// projector, which stays authoritative.
type Queries struct {
	authz     authz.Table
	cache     cache.Cache
	projector projection.Projector
	ledger    *evidence.Ledger
	ttl       time.Duration
	logger    *slog.Logger
}

// NewQueries builds the read-side service. A nil cache disables caching
// entirely; reads then always hit the projector.
func NewQueries(table authz.Table, c cache.Cache, projector projection.Projector, ledger *evidence.Ledger, ttl time.Duration, logger *slog.Logger) *Queries {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queries{authz: table, cache: c, projector: projector, ledger: ledger, ttl: ttl, logger: logger}
}

// GetRun returns one run view for the caller's tenant.
func (q *Queries) GetRun(ctx context.Context, actx primitives.AppContext, id primitives.RunID) (projection.RunView, error) {
	key := cache.GetRunKey(actx.TenantID(), id)
	var view projection.RunView
	if q.cachedInto(ctx, key, &view) {
		return view, nil
	}
	view, err := q.projector.GetRun(ctx, actx.TenantID(), id)
	if err != nil {
		return projection.RunView{}, err
	}
	q.store(ctx, key, view)
	return view, nil
}

// ListRuns returns the tenant's runs, most recently updated first.
func (q *Queries) ListRuns(ctx context.Context, actx primitives.AppContext) ([]projection.RunView, error) {
	key := cache.ListRunsKey(actx.TenantID(), "all")
	var views []projection.RunView
	if q.cachedInto(ctx, key, &views) {
		return views, nil
	}
	views, err := q.projector.ListRuns(ctx, actx.TenantID())
	if err != nil {
		return nil, err
	}
	q.store(ctx, key, views)
	return views, nil
}

// ListWorkspaces returns the tenant's workspaces ordered by name.
func (q *Queries) ListWorkspaces(ctx context.Context, actx primitives.AppContext) ([]projection.WorkspaceView, error) {
	key := cache.ListWorkspacesKey(actx.TenantID(), "all")
	var views []projection.WorkspaceView
	if q.cachedInto(ctx, key, &views) {
		return views, nil
	}
	views, err := q.projector.ListWorkspaces(ctx, actx.TenantID())
	if err != nil {
		return nil, err
	}
	q.store(ctx, key, views)
	return views, nil
}

// ListEvidence returns the tenant's evidence chain in sequence order.
// Evidence is never cached; auditors read the chain itself.
func (q *Queries) ListEvidence(ctx context.Context, actx primitives.AppContext) ([]evidence.Entry, error) {
	if !q.authz.Allows(actx, authz.ActionEvidenceRead) {
		return nil, apperr.Forbiddenf("%s is not allowed for roles %v", authz.ActionEvidenceRead, actx.Roles())
	}
	return q.ledger.List(ctx, actx.TenantID())
}

func (q *Queries) cachedInto(ctx context.Context, key string, out any) bool {
	if q.cache == nil {
		return false
	}
	raw, hit, err := q.cache.Get(ctx, key)
	if err != nil {
		q.logger.Warn("cache read failed", "key", key, "error", err)
		return false
	}
	if !hit {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		q.logger.Warn("corrupt cache entry", "key", key, "error", err)
		return false
	}
	return true
}

func (q *Queries) store(ctx context.Context, key string, value any) {
	if q.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := q.cache.Set(ctx, key, raw, q.ttl); err != nil {
		q.logger.Warn("cache write failed", "key", key, "error", err)
	}
}
