package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/blissfulldev/hitld/internal/advance"
	"github.com/blissfulldev/hitld/internal/clarification"
	"github.com/blissfulldev/hitld/internal/history"
	"github.com/blissfulldev/hitld/internal/reconcile"
	"github.com/blissfulldev/hitld/internal/session"
	"github.com/blissfulldev/hitld/internal/workflow"
)

func newTestOrchestrator(t *testing.T, advanceCfg *advance.Config) (*Orchestrator, session.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store := session.NewStore(nil, nil, logger)
	t.Cleanup(func() { _ = store.Close() })

	machine, err := workflow.NewMachine(store, logger)
	require.NoError(t, err)

	hist, err := history.NewService(nil, nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	mgr, err := clarification.NewManager(nil, store, hist, nil, nil, logger)
	require.NoError(t, err)

	engine, err := reconcile.NewEngine(store, logger)
	require.NoError(t, err)

	if advanceCfg == nil {
		advanceCfg = &advance.Config{Preference: advance.Always}
	}
	policy, err := advance.NewPolicy(advanceCfg)
	require.NoError(t, err)

	orch, err := New(Deps{
		Store:          store,
		Machine:        machine,
		Clarifications: mgr,
		Reconciler:     engine,
		Policy:         policy,
		Logger:         logger,
	})
	require.NoError(t, err)
	return orch, store
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

func TestClarificationRoundTrip(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t, nil)

	req := session.NewClarificationRequest(session.AgentCore, "Region?", "bucket setup")
	result, err := orch.AddClarificationRequest(ctx, "s1", req)
	require.NoError(t, err)
	assert.True(t, result.Surfaced)

	waiting, err := orch.IsWaitingForClarification(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, waiting)

	pending, err := orch.GetPendingClarifications(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)

	resp := session.NewClarificationResponse(req.ID, "eu-west-1")
	require.NoError(t, orch.AddClarificationResponse(ctx, "s1", resp))

	waiting, err = orch.IsWaitingForClarification(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, waiting)

	responses, err := orch.GetAllClarificationResponses(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, responses, 1)

	// The pipeline advances past core_agent once it completes.
	require.NoError(t, orch.MarkAgentCompleted(ctx, "s1", session.AgentCore))
	next, ok, err := orch.GetNextAgent(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.AgentDiagram, next)
}

func TestDetermineNextAction(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh session runs first agent", func(t *testing.T) {
		orch, _ := newTestOrchestrator(t, nil)
		action, err := orch.DetermineNextAction(ctx, "s1")
		require.NoError(t, err)
		run, ok := action.(RunAgent)
		require.True(t, ok, "expected RunAgent, got %T", action)
		assert.Equal(t, session.AgentCore, run.Agent)
	})

	t.Run("surfaced clarification awaits answer", func(t *testing.T) {
		orch, _ := newTestOrchestrator(t, nil)
		req := session.NewClarificationRequest(session.AgentCore, "Region?", "")
		_, err := orch.AddClarificationRequest(ctx, "s1", req)
		require.NoError(t, err)

		action, err := orch.DetermineNextAction(ctx, "s1")
		require.NoError(t, err)
		await, ok := action.(AwaitClarification)
		require.True(t, ok, "expected AwaitClarification, got %T", action)
		require.Len(t, await.Pending, 1)
		assert.Equal(t, req.ID, await.Pending[0].ID)
	})

	t.Run("running current agent continues", func(t *testing.T) {
		orch, _ := newTestOrchestrator(t, nil)
		require.NoError(t, orch.SetCurrentAgent(ctx, "s1", session.AgentCore, "step-1"))

		action, err := orch.DetermineNextAction(ctx, "s1")
		require.NoError(t, err)
		run, ok := action.(RunAgent)
		require.True(t, ok)
		assert.Equal(t, session.AgentCore, run.Agent)
		assert.Equal(t, "step-1", run.StepID)
	})

	t.Run("completed pipeline reports complete", func(t *testing.T) {
		orch, _ := newTestOrchestrator(t, nil)
		for _, agent := range session.PipelineOrder() {
			require.NoError(t, orch.MarkAgentCompleted(ctx, "s1", agent))
		}
		action, err := orch.DetermineNextAction(ctx, "s1")
		require.NoError(t, err)
		_, ok := action.(Complete)
		require.True(t, ok, "expected Complete, got %T", action)
	})

	t.Run("never preference awaits approval without timeout", func(t *testing.T) {
		orch, _ := newTestOrchestrator(t, &advance.Config{Preference: advance.Never})
		action, err := orch.DetermineNextAction(ctx, "s1")
		require.NoError(t, err)
		approval, ok := action.(AwaitApproval)
		require.True(t, ok, "expected AwaitApproval, got %T", action)
		assert.Equal(t, session.AgentCore, approval.Next)
		assert.Zero(t, approval.Timeout)
	})

	t.Run("ask preference gates input step", func(t *testing.T) {
		orch, store := newTestOrchestrator(t, &advance.Config{Preference: advance.Ask, Timeout: time.Minute})
		require.NoError(t, store.Update(ctx, "s1", func(state *session.ConversationState) error {
			state.Steps = []*session.WorkflowStep{
				{ID: "review", Name: "review plan", AgentName: session.AgentCore, Status: session.StepPending, RequiresInput: true},
			}
			return nil
		}))

		action, err := orch.DetermineNextAction(ctx, "s1")
		require.NoError(t, err)
		approval, ok := action.(AwaitApproval)
		require.True(t, ok, "expected AwaitApproval, got %T", action)
		assert.Equal(t, time.Minute, approval.Timeout)
	})

	t.Run("waiting flag drift forces reconciliation", func(t *testing.T) {
		orch, store := newTestOrchestrator(t, nil)
		require.NoError(t, store.Update(ctx, "s1", func(state *session.ConversationState) error {
			state.IsWaitingForClarification = true
			return nil
		}))

		action, err := orch.DetermineNextAction(ctx, "s1")
		require.NoError(t, err)
		rec, ok := action.(Reconcile)
		require.True(t, ok, "expected Reconcile, got %T", action)
		assert.NotEmpty(t, rec.Reason)

		// Running the repair restores normal operation.
		report, err := orch.PerformStateReconciliation(ctx, "s1", nil)
		require.NoError(t, err)
		assert.True(t, report.Success)

		action, err = orch.DetermineNextAction(ctx, "s1")
		require.NoError(t, err)
		_, ok = action.(RunAgent)
		require.True(t, ok)
	})
}

func TestCanAutoAdvance(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t, nil)

	allowed, _, err := orch.CanAutoAdvance(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, allowed)

	req := session.NewClarificationRequest(session.AgentCore, "Region?", "")
	_, err = orch.AddClarificationRequest(ctx, "s1", req)
	require.NoError(t, err)

	allowed, reason, err := orch.CanAutoAdvance(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.NotEmpty(t, reason)
}

func TestClearState(t *testing.T) {
	ctx := context.Background()
	orch, store := newTestOrchestrator(t, nil)

	require.NoError(t, store.Update(ctx, "s1", func(state *session.ConversationState) error {
		state.WorkflowPhase = session.PhaseDesign
		return nil
	}))
	require.NoError(t, orch.ClearState(ctx, "s1"))

	state, err := orch.GetState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.PhasePlanning, state.WorkflowPhase)
}

func TestGuidance(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t, nil)

	req := session.NewClarificationRequest(session.AgentCore, "Region?", "")
	_, err := orch.AddClarificationRequest(ctx, "s1", req)
	require.NoError(t, err)

	summary, err := orch.Guidance(ctx, "s1")
	require.NoError(t, err)
	assert.Contains(t, summary, "planning")
	assert.Contains(t, summary, "waiting for your answer")
}

func TestHandleErrorWithoutRecoveryService(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t, nil)

	handled := orch.HandleError(ctx, "s1", errors.New("boom"))
	require.NotNil(t, handled)
	assert.True(t, handled.RequiresUserAction)
	assert.NotEmpty(t, handled.NextSteps)
}

func TestReconcileAll(t *testing.T) {
	ctx := context.Background()
	orch, store := newTestOrchestrator(t, nil)

	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, store.Update(ctx, id, func(state *session.ConversationState) error {
			state.AgentStates[session.AgentCore] = session.AgentRunning
			return nil
		}))
	}

	orch.reconcileAll(ctx, nil)

	for _, id := range []string{"s1", "s2"} {
		state, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, session.AgentNotStarted, state.AgentStates[session.AgentCore], id)
		assert.Equal(t, int64(1), state.Metrics.ReconcileRuns, id)
	}
}
