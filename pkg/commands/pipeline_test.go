package commands

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/authz"
	"github.com/portarium/core/pkg/cache"
	"github.com/portarium/core/pkg/events"
	"github.com/portarium/core/pkg/evidence"
	"github.com/portarium/core/pkg/idempotency"
	"github.com/portarium/core/pkg/orchestrator"
	"github.com/portarium/core/pkg/primitives"
	"github.com/portarium/core/pkg/projection"
	"github.com/portarium/core/pkg/ratelimit"
	"github.com/portarium/core/pkg/workflows"
)

type fixture struct {
	pipeline  *Pipeline
	store     *MemoryStore
	ledger    *evidence.Ledger
	publisher *events.MemoryPublisher
	cache     *cache.MemoryCache
	orch      *orchestrator.MemoryOrchestrator
	projector *projection.MemoryProjector
	workflows *workflows.MemoryStore
	deps      *Deps
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()

	f := &fixture{
		store:     NewMemoryStore(),
		ledger:    evidence.NewLedger(evidence.NewMemoryStore()),
		publisher: events.NewMemoryPublisher(),
		cache:     cache.NewMemoryCache(),
		orch:      orchestrator.NewMemoryOrchestrator(),
		projector: projection.NewMemoryProjector(),
		workflows: workflows.NewMemoryStore(),
	}
	logger := slog.New(slog.DiscardHandler)
	deps := Deps{
		Authz:        authz.DefaultTable(),
		Limiter:      ratelimit.NewMemoryLimiter(),
		Rules:        map[string]ratelimit.Rule{},
		Idempotency:  idempotency.NewMemoryStore(0),
		Store:        f.store,
		Workflows:    f.workflows,
		Ledger:       f.ledger,
		Publisher:    f.publisher,
		Invalidator:  cache.NewInvalidator(f.cache, logger),
		Projector:    f.projector,
		Orchestrator: f.orch,
		Logger:       logger,
		AwaitBackoff: time.Millisecond,
	}
	if mutate != nil {
		mutate(&deps)
	}
	pipeline, err := NewPipeline(deps)
	require.NoError(t, err)
	f.pipeline = pipeline
	f.deps = &deps

	require.NoError(t, f.workflows.Put(context.Background(), workflows.Definition{
		WorkflowID:  "wf-1",
		TenantID:    "t1",
		WorkspaceID: "ws-1",
		Name:        "provision-account",
		Version:     "1.0.0",
		Tier:        workflows.TierStandard,
		Active:      true,
		Spec: map[string]any{
			"steps": []any{map[string]any{"name": "create", "operation": "crm.create"}},
		},
	}))
	return f
}

func ctxFor(t *testing.T, roles ...string) primitives.AppContext {
	t.Helper()
	actx, err := primitives.NewAppContext("t1", "user-1", roles, nil, "corr-1")
	require.NoError(t, err)
	return actx
}

func (f *fixture) chain(t *testing.T, tenant primitives.TenantID) []evidence.Entry {
	t.Helper()
	entries, err := f.ledger.List(context.Background(), tenant)
	require.NoError(t, err)
	return entries
}

func startInput(key string) StartWorkflowInput {
	return StartWorkflowInput{RequestKey: key, WorkflowID: "wf-1", WorkspaceID: "ws-1"}
}

func TestStartWorkflowHappyPath(t *testing.T) {
	f := newFixture(t, nil)
	actx := ctxFor(t, "operator")

	out, res, err := f.pipeline.StartWorkflow(context.Background(), actx, startInput("r1"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, RunPending, out.Status)

	// aggregate persisted
	run, err := f.store.GetRun(context.Background(), "t1", out.RunID)
	require.NoError(t, err)
	assert.Equal(t, primitives.WorkflowID("wf-1"), run.WorkflowID)

	// one evidence entry, chained from genesis
	entries := f.chain(t, "t1")
	require.Len(t, entries, 1)
	assert.Equal(t, evidence.CategoryAction, entries[0].Category)
	assert.Equal(t, evidence.GenesisHash, entries[0].PreviousHash)
	require.NoError(t, evidence.VerifyChain(entries, nil))

	// event published with tenant and correlation extensions
	published := f.publisher.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "io.portarium.run.started", published[0].Type)
	assert.Equal(t, "t1", published[0].TenantID)
	assert.Equal(t, "corr-1", published[0].CorrelationID)

	// orchestrator received the run under a tenant-scoped key
	assert.Equal(t, 1, f.orch.StartedRuns())

	// read model updated with the evidence sequence
	view, err := f.projector.GetRun(context.Background(), "t1", out.RunID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), view.EventSeq)
}

func TestStartWorkflowIdempotentReplay(t *testing.T) {
	f := newFixture(t, nil)
	actx := ctxFor(t, "operator")
	ctx := context.Background()

	first, res1, err := f.pipeline.StartWorkflow(ctx, actx, startInput("r1"))
	require.NoError(t, err)
	assert.False(t, res1.Replayed)

	second, res2, err := f.pipeline.StartWorkflow(ctx, actx, startInput("r1"))
	require.NoError(t, err)
	assert.True(t, res2.Replayed)
	assert.Equal(t, first.RunID, second.RunID)

	// no second run, evidence entry, event, or orchestrator start
	assert.Len(t, f.chain(t, "t1"), 1)
	assert.Len(t, f.publisher.Published(), 1)
	assert.Equal(t, 1, f.orch.StartedRuns())
}

func TestForbiddenLeavesZeroSideEffects(t *testing.T) {
	f := newFixture(t, nil)
	actx := ctxFor(t, "auditor")

	_, _, err := f.pipeline.StartWorkflow(context.Background(), actx, startInput("r1"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	assert.Empty(t, f.chain(t, "t1"))
	assert.Empty(t, f.publisher.Published())
	assert.Equal(t, 0, f.orch.StartedRuns())
}

func TestAuditDenialsAppendsEvidence(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.AuditDenials = true })
	actx := ctxFor(t, "auditor")

	_, _, err := f.pipeline.StartWorkflow(context.Background(), actx, startInput("r1"))
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	entries := f.chain(t, "t1")
	require.Len(t, entries, 1)
	assert.Equal(t, evidence.CategoryPolicyDenied, entries[0].Category)
	// still no event or run
	assert.Empty(t, f.publisher.Published())
	assert.Equal(t, 0, f.orch.StartedRuns())
}

func TestRateLimitDeniesOverBudget(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Rules = map[string]ratelimit.Rule{
			CmdStartWorkflow: {Limit: 2, Window: time.Hour},
		}
	})
	actx := ctxFor(t, "operator")
	ctx := context.Background()

	for i, key := range []string{"r1", "r2"} {
		_, _, err := f.pipeline.StartWorkflow(ctx, actx, startInput(key))
		require.NoErrorf(t, err, "request %d", i+1)
	}
	_, _, err := f.pipeline.StartWorkflow(ctx, actx, startInput("r3"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindRateLimited))

	// replays do not consume budget twice but new keys do
	assert.Len(t, f.chain(t, "t1"), 2)
}

func TestBurstSmootherDeniesBeforeWindowQuota(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		// one request per long interval, burst of one
		d.Smoother = ratelimit.NewSmoother(0.0001, 1)
		d.Rules = map[string]ratelimit.Rule{
			CmdStartWorkflow: {Limit: 100, Window: time.Hour},
		}
	})
	actx := ctxFor(t, "operator")
	ctx := context.Background()

	_, _, err := f.pipeline.StartWorkflow(ctx, actx, startInput("r1"))
	require.NoError(t, err)

	// window quota has plenty left; the burst allowance does not
	_, _, err = f.pipeline.StartWorkflow(ctx, actx, startInput("r2"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindRateLimited))
	assert.Len(t, f.chain(t, "t1"), 1)
}

func TestConcurrentCreateApprovalSharedKey(t *testing.T) {
	f := newFixture(t, nil)
	actx := ctxFor(t, "operator")
	ctx := context.Background()

	started, _, err := f.pipeline.StartWorkflow(ctx, actx, startInput("start"))
	require.NoError(t, err)
	baseline := len(f.chain(t, "t1"))

	const callers = 8
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[primitives.ApprovalID]int{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _, err := f.pipeline.CreateApproval(ctx, actx, CreateApprovalInput{
				RequestKey: "r1",
				RunID:      started.RunID,
				Summary:    "release to production",
			})
			if err != nil {
				t.Errorf("CreateApproval: %v", err)
				return
			}
			mu.Lock()
			ids[out.ApprovalID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	// every caller observed the identical ApprovalID
	require.Len(t, ids, 1)
	for id, n := range ids {
		assert.NotEmpty(t, id)
		assert.Equal(t, callers, n)
	}
	// exactly one evidence entry was appended for the approval
	assert.Len(t, f.chain(t, "t1"), baseline+1)
	assert.Len(t, f.publisher.Published(), baseline+1)
}

func TestSubmitApprovalLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	operator := ctxFor(t, "operator")
	approver := ctxFor(t, "approver")
	ctx := context.Background()

	started, _, err := f.pipeline.StartWorkflow(ctx, operator, startInput("start"))
	require.NoError(t, err)
	created, _, err := f.pipeline.CreateApproval(ctx, operator, CreateApprovalInput{
		RequestKey: "create", RunID: started.RunID, Summary: "ship it",
	})
	require.NoError(t, err)

	// operator cannot submit approvals
	_, _, err = f.pipeline.SubmitApproval(ctx, operator, SubmitApprovalInput{
		RequestKey: "submit-1", ApprovalID: created.ApprovalID, WorkspaceID: "ws-1", Approve: true,
	})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	// wrong workspace is rejected even for an approver
	_, _, err = f.pipeline.SubmitApproval(ctx, approver, SubmitApprovalInput{
		RequestKey: "submit-2", ApprovalID: created.ApprovalID, WorkspaceID: "ws-other", Approve: true,
	})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	out, _, err := f.pipeline.SubmitApproval(ctx, approver, SubmitApprovalInput{
		RequestKey: "submit-3", ApprovalID: created.ApprovalID, WorkspaceID: "ws-1", Approve: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ApprovalApproved, out.Status)

	// the waiting run got the signal
	signals := f.orch.Signals()
	require.Len(t, signals, 1)
	assert.Equal(t, started.RunID, signals[0].RunID)
	assert.True(t, signals[0].Approved)

	// deciding again with a fresh key is a Conflict
	_, _, err = f.pipeline.SubmitApproval(ctx, approver, SubmitApprovalInput{
		RequestKey: "submit-4", ApprovalID: created.ApprovalID, WorkspaceID: "ws-1", Approve: false,
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	// replaying the original submit returns the stored decision
	replay, res, err := f.pipeline.SubmitApproval(ctx, approver, SubmitApprovalInput{
		RequestKey: "submit-3", ApprovalID: created.ApprovalID, WorkspaceID: "ws-1", Approve: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, ApprovalApproved, replay.Status)
	assert.Len(t, f.orch.Signals(), 1, "replay must not signal again")
}

func TestCompleteWorkItem(t *testing.T) {
	f := newFixture(t, nil)
	actx := ctxFor(t, "operator")
	ctx := context.Background()

	require.NoError(t, f.store.SaveWorkItem(ctx, WorkItem{
		TenantID:   "t1",
		WorkItemID: "wi-1",
		RunID:      "run-1",
		Title:      "verify invoice",
		Status:     WorkItemOpen,
	}))

	out, _, err := f.pipeline.CompleteWorkItem(ctx, actx, CompleteWorkItemInput{
		RequestKey: "c1", WorkItemID: "wi-1",
	})
	require.NoError(t, err)
	assert.Equal(t, WorkItemCompleted, out.Status)

	item, err := f.store.GetWorkItem(ctx, "t1", "wi-1")
	require.NoError(t, err)
	assert.Equal(t, primitives.UserID("user-1"), item.CompletedBy)

	// completing again with a fresh key conflicts
	_, _, err = f.pipeline.CompleteWorkItem(ctx, actx, CompleteWorkItemInput{
		RequestKey: "c2", WorkItemID: "wi-1",
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestRegisterWorkspace(t *testing.T) {
	f := newFixture(t, nil)
	admin := ctxFor(t, "admin")
	ctx := context.Background()

	out, _, err := f.pipeline.RegisterWorkspace(ctx, admin, RegisterWorkspaceInput{
		RequestKey: "reg-1", WorkspaceID: "ws-new", Name: "billing", Vendor: "netsuite",
	})
	require.NoError(t, err)
	assert.Equal(t, primitives.WorkspaceID("ws-new"), out.WorkspaceID)

	// operator lacks workspace:register
	_, _, err = f.pipeline.RegisterWorkspace(ctx, ctxFor(t, "operator"), RegisterWorkspaceInput{
		RequestKey: "reg-2", WorkspaceID: "ws-2", Name: "x", Vendor: "y",
	})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	// same ID again is a Conflict
	_, _, err = f.pipeline.RegisterWorkspace(ctx, admin, RegisterWorkspaceInput{
		RequestKey: "reg-3", WorkspaceID: "ws-new", Name: "billing", Vendor: "netsuite",
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	// workspace view projected
	views, err := f.projector.ListWorkspaces(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "billing", views[0].Name)
}

func TestMutationInvalidatesCachedReads(t *testing.T) {
	f := newFixture(t, nil)
	actx := ctxFor(t, "operator")
	ctx := context.Background()

	// a cached listing exists before the mutation
	require.NoError(t, f.cache.Set(ctx, cache.ListRunsKey("t1", "all"), []byte(`[]`), 0))
	require.NoError(t, f.cache.Set(ctx, cache.GetRunKey("t1", "run-x"), []byte(`{}`), 0))
	require.NoError(t, f.cache.Set(ctx, cache.ListRunsKey("t2", "all"), []byte(`[]`), 0))

	_, _, err := f.pipeline.StartWorkflow(ctx, actx, startInput("r1"))
	require.NoError(t, err)

	if _, hit, _ := f.cache.Get(ctx, cache.ListRunsKey("t1", "all")); hit {
		t.Fatal("listRuns cache entry survived a run mutation")
	}
	if _, hit, _ := f.cache.Get(ctx, cache.GetRunKey("t1", "run-x")); hit {
		t.Fatal("getRun cache entry survived a run mutation")
	}
	// another tenant's cache is untouched
	if _, hit, _ := f.cache.Get(ctx, cache.ListRunsKey("t2", "all")); !hit {
		t.Fatal("unrelated tenant's cache was flushed")
	}
}

func TestValidationFailsBeforeSideEffects(t *testing.T) {
	f := newFixture(t, nil)
	actx := ctxFor(t, "operator")
	ctx := context.Background()

	_, _, err := f.pipeline.StartWorkflow(ctx, actx, StartWorkflowInput{
		RequestKey: "r1", WorkspaceID: "ws-1",
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "missing workflowId")

	_, _, err = f.pipeline.StartWorkflow(ctx, actx, StartWorkflowInput{
		WorkflowID: "wf-1", WorkspaceID: "ws-1",
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "missing requestKey")

	assert.Empty(t, f.chain(t, "t1"))
	assert.Empty(t, f.publisher.Published())
}

func TestFailedExecutionReleasesKey(t *testing.T) {
	f := newFixture(t, nil)
	actx := ctxFor(t, "operator")
	ctx := context.Background()

	// unknown workflow fails the domain step
	in := startInput("retry-key")
	in.WorkflowID = "wf-missing"
	_, _, err := f.pipeline.StartWorkflow(ctx, actx, in)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	// the same key is usable for the corrected request
	out, res, err := f.pipeline.StartWorkflow(ctx, actx, startInput("retry-key"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.NotEmpty(t, out.RunID)
}

func TestInactiveWorkflowRejected(t *testing.T) {
	f := newFixture(t, nil)
	actx := ctxFor(t, "operator")
	ctx := context.Background()

	def, err := f.workflows.Get(ctx, "t1", "wf-1")
	require.NoError(t, err)
	def.Active = false
	require.NoError(t, f.workflows.Put(ctx, def))

	_, _, err = f.pipeline.StartWorkflow(ctx, actx, startInput("r1"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestWorkflowFromOtherWorkspaceForbidden(t *testing.T) {
	f := newFixture(t, nil)
	actx := ctxFor(t, "operator")

	in := startInput("r1")
	in.WorkspaceID = "ws-other"
	_, _, err := f.pipeline.StartWorkflow(context.Background(), actx, in)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

// flakyPublisher delivers to the wrapped publisher unless failing.
type flakyPublisher struct {
	inner   *events.MemoryPublisher
	failing bool
}

func (p *flakyPublisher) Publish(ctx context.Context, env events.Envelope) error {
	if p.failing {
		return errBrokerDown
	}
	return p.inner.Publish(ctx, env)
}

var errBrokerDown = apperr.Dependencyf("broker unreachable")

func TestPublishFailureStillReplaysStoredResult(t *testing.T) {
	pub := &flakyPublisher{inner: events.NewMemoryPublisher(), failing: true}
	f := newFixture(t, func(d *Deps) { d.Publisher = pub })
	actx := ctxFor(t, "operator")
	ctx := context.Background()

	_, _, err := f.pipeline.StartWorkflow(ctx, actx, startInput("r1"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDependencyFailure))
	// the run and its evidence entry committed before the publish
	require.Len(t, f.chain(t, "t1"), 1)

	// once the broker recovers, the same key replays the stored result
	// instead of conflicting on a stuck claim or executing again
	pub.failing = false
	out, res, err := f.pipeline.StartWorkflow(ctx, actx, startInput("r1"))
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.NotEmpty(t, out.RunID)
	assert.Len(t, f.chain(t, "t1"), 1)
	assert.Equal(t, 0, f.orch.StartedRuns(), "replay must not hand off the run")
}

// stallingOrchestrator fails every handoff.
type stallingOrchestrator struct{}

func (stallingOrchestrator) StartRun(context.Context, orchestrator.StartRunInput) (primitives.RunID, error) {
	return "", errBrokerDown
}

func (stallingOrchestrator) SignalApproval(context.Context, primitives.TenantID, primitives.RunID, bool) error {
	return errBrokerDown
}

func (stallingOrchestrator) CancelRun(context.Context, primitives.TenantID, primitives.RunID, string) error {
	return errBrokerDown
}

func TestHandoffFailureStillReplaysStoredResult(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Orchestrator = stallingOrchestrator{} })
	actx := ctxFor(t, "operator")
	ctx := context.Background()

	_, _, err := f.pipeline.StartWorkflow(ctx, actx, startInput("r1"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDependencyFailure))
	require.Len(t, f.chain(t, "t1"), 1)

	second, res, err := f.pipeline.StartWorkflow(ctx, actx, startInput("r1"))
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	// the replayed result names the run the first call persisted
	run, err := f.store.GetRun(ctx, "t1", second.RunID)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, run.RunID)
	assert.Len(t, f.chain(t, "t1"), 1, "retry must not append a second entry")
}

func TestEvidenceChainAccumulatesAcrossCommands(t *testing.T) {
	f := newFixture(t, nil)
	operator := ctxFor(t, "operator")
	approver := ctxFor(t, "approver")
	ctx := context.Background()

	started, _, err := f.pipeline.StartWorkflow(ctx, operator, startInput("s"))
	require.NoError(t, err)
	created, _, err := f.pipeline.CreateApproval(ctx, operator, CreateApprovalInput{
		RequestKey: "c", RunID: started.RunID, Summary: "go",
	})
	require.NoError(t, err)
	_, _, err = f.pipeline.SubmitApproval(ctx, approver, SubmitApprovalInput{
		RequestKey: "a", ApprovalID: created.ApprovalID, WorkspaceID: "ws-1", Approve: true,
	})
	require.NoError(t, err)

	entries := f.chain(t, "t1")
	require.Len(t, entries, 3)
	require.NoError(t, evidence.VerifyChain(entries, nil))
}
