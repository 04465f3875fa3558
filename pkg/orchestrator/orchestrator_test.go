package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

func startInput(runID, key string) StartRunInput {
	return StartRunInput{
		TenantID:       "t1",
		WorkspaceID:    "ws-1",
		WorkflowID:     "wf-1",
		RunID:          primitives.RunID(runID),
		IdempotencyKey: StartKey("t1", key),
	}
}

func TestStartKeyIsTenantScoped(t *testing.T) {
	assert.Equal(t, "t1/req-1", StartKey("t1", "req-1"))
	assert.NotEqual(t, StartKey("t1", "req-1"), StartKey("t2", "req-1"))
}

func TestStartRunDedupesByKey(t *testing.T) {
	o := NewMemoryOrchestrator()
	ctx := context.Background()

	first, err := o.StartRun(ctx, startInput("run-1", "req-1"))
	require.NoError(t, err)

	// a retry with the same key must return the original run
	second, err := o.StartRun(ctx, startInput("run-2", "req-1"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, o.StartedRuns())

	// a different key starts a new run
	third, err := o.StartRun(ctx, startInput("run-3", "req-2"))
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, 2, o.StartedRuns())
}

func TestStartRunValidates(t *testing.T) {
	o := NewMemoryOrchestrator()
	_, err := o.StartRun(context.Background(), StartRunInput{TenantID: "t1"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	in := startInput("run-1", "req-1")
	in.IdempotencyKey = ""
	_, err = o.StartRun(context.Background(), in)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestSignalApproval(t *testing.T) {
	o := NewMemoryOrchestrator()
	ctx := context.Background()

	runID, err := o.StartRun(ctx, startInput("run-1", "req-1"))
	require.NoError(t, err)

	require.NoError(t, o.SignalApproval(ctx, "t1", runID, true))
	require.NoError(t, o.SignalApproval(ctx, "t1", runID, false))

	signals := o.Signals()
	require.Len(t, signals, 2)
	assert.True(t, signals[0].Approved)
	assert.False(t, signals[1].Approved)

	err = o.SignalApproval(ctx, "t1", "unknown-run", true)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCancelRun(t *testing.T) {
	o := NewMemoryOrchestrator()
	ctx := context.Background()

	runID, err := o.StartRun(ctx, startInput("run-1", "req-1"))
	require.NoError(t, err)

	require.NoError(t, o.CancelRun(ctx, "t1", runID, "superseded"))
	reason, err := o.CancelReason(runID)
	require.NoError(t, err)
	assert.Equal(t, "superseded", reason)

	// a cancelled run no longer accepts signals
	err = o.SignalApproval(ctx, "t1", runID, true)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
