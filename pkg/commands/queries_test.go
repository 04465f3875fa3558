package commands

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/authz"
	"github.com/portarium/core/pkg/cache"
	"github.com/portarium/core/pkg/evidence"
	"github.com/portarium/core/pkg/primitives"
	"github.com/portarium/core/pkg/projection"
)

// countingProjector counts source-of-truth reads to observe cache hits.
type countingProjector struct {
	*projection.MemoryProjector
	getRuns  int
	listRuns int
}

func (c *countingProjector) GetRun(ctx context.Context, tenant primitives.TenantID, run primitives.RunID) (projection.RunView, error) {
	c.getRuns++
	return c.MemoryProjector.GetRun(ctx, tenant, run)
}

func (c *countingProjector) ListRuns(ctx context.Context, tenant primitives.TenantID) ([]projection.RunView, error) {
	c.listRuns++
	return c.MemoryProjector.ListRuns(ctx, tenant)
}

func newQueriesFixture(t *testing.T) (*Queries, *countingProjector, *cache.MemoryCache) {
	t.Helper()
	proj := &countingProjector{MemoryProjector: projection.NewMemoryProjector()}
	mc := cache.NewMemoryCache()
	ledger := evidence.NewLedger(evidence.NewMemoryStore())
	q := NewQueries(authz.DefaultTable(), mc, proj, ledger, time.Minute, slog.New(slog.DiscardHandler))

	require.NoError(t, proj.UpsertRun(context.Background(), projection.RunView{
		TenantID: "t1", RunID: "run-1", WorkspaceID: "ws-1", WorkflowID: "wf-1",
		Status: "running", EventSeq: 1, UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}))
	return q, proj, mc
}

func TestGetRunCacheAside(t *testing.T) {
	q, proj, _ := newQueriesFixture(t)
	actx := ctxFor(t, "operator")
	ctx := context.Background()

	first, err := q.GetRun(ctx, actx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "running", first.Status)
	assert.Equal(t, 1, proj.getRuns)

	// second read served from cache
	second, err := q.GetRun(ctx, actx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, proj.getRuns)
}

func TestGetRunMissIsNotAnError(t *testing.T) {
	q, _, _ := newQueriesFixture(t)
	_, err := q.GetRun(context.Background(), ctxFor(t, "operator"), "absent")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestListRunsRefetchedAfterInvalidation(t *testing.T) {
	q, proj, mc := newQueriesFixture(t)
	actx := ctxFor(t, "operator")
	ctx := context.Background()

	_, err := q.ListRuns(ctx, actx)
	require.NoError(t, err)
	_, err = q.ListRuns(ctx, actx)
	require.NoError(t, err)
	assert.Equal(t, 1, proj.listRuns, "second read should hit the cache")

	cache.NewInvalidator(mc, slog.New(slog.DiscardHandler)).OnRunChanged(ctx, "t1")

	_, err = q.ListRuns(ctx, actx)
	require.NoError(t, err)
	assert.Equal(t, 2, proj.listRuns, "read after invalidation must fall through")
}

type brokenCache struct{ cache.Cache }

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("redis down")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("redis down")
}

func TestCacheFailureDegradesToPassThrough(t *testing.T) {
	proj := &countingProjector{MemoryProjector: projection.NewMemoryProjector()}
	require.NoError(t, proj.UpsertRun(context.Background(), projection.RunView{
		TenantID: "t1", RunID: "run-1", WorkspaceID: "ws-1", WorkflowID: "wf-1",
		Status: "running", EventSeq: 1, UpdatedAt: time.Now(),
	}))
	q := NewQueries(authz.DefaultTable(), brokenCache{}, proj, nil, time.Minute, slog.New(slog.DiscardHandler))

	view, err := q.GetRun(context.Background(), ctxFor(t, "operator"), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "running", view.Status)
	assert.Equal(t, 1, proj.getRuns)
}

func TestListEvidenceRequiresGrant(t *testing.T) {
	q, _, _ := newQueriesFixture(t)

	_, err := q.ListEvidence(context.Background(), ctxFor(t))
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "no roles")

	entries, err := q.ListEvidence(context.Background(), ctxFor(t, "auditor"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
