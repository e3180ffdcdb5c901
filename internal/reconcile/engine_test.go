package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/blissfulldev/hitld/internal/session"
)

func newTestEngine(t *testing.T) (*Engine, session.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := session.NewStore(nil, nil, logger)
	t.Cleanup(func() { _ = store.Close() })

	engine, err := NewEngine(store, logger)
	require.NoError(t, err)
	return engine, store
}

func TestNewEngineRequiresStore(t *testing.T) {
	_, err := NewEngine(nil, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestRunCleanSession(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	report, err := engine.Run(ctx, "s1", nil)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Empty(t, report.IssuesFound)
	assert.Empty(t, report.ActionsPerformed)

	state, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Metrics.ReconcileRuns)
}

func TestRunRemovesOrphanedClarification(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	req := session.NewClarificationRequest(session.AgentCore, "Region?", "bucket setup")
	req.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, store.Update(ctx, "s1", func(state *session.ConversationState) error {
		state.Pending = append(state.Pending, req)
		state.IsWaitingForClarification = true
		return nil
	}))

	opts := DefaultOptions()
	opts.PreserveUserData = false
	opts.ForceReset = true

	report, err := engine.Run(ctx, "s1", opts)
	require.NoError(t, err)
	assert.True(t, report.Success)
	require.Len(t, report.IssuesFound, 1)
	assert.Contains(t, report.IssuesFound[0], req.ID)
	require.NotEmpty(t, report.ActionsPerformed)
	assert.Contains(t, report.ActionsPerformed[0], "removed orphaned clarification")

	state, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, state.Pending)
	assert.False(t, state.IsWaitingForClarification)
}

func TestRunPromotesQueuedClarificationAfterOrphanRemoval(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	orphan := session.NewClarificationRequest(session.AgentCore, "Region?", "bucket setup")
	orphan.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	queued := session.NewClarificationRequest(session.AgentCore, "VPC CIDR?", "network setup")
	require.NoError(t, store.Update(ctx, "s1", func(state *session.ConversationState) error {
		state.Pending = append(state.Pending, orphan)
		state.Queue = append(state.Queue, queued)
		state.IsWaitingForClarification = true
		return nil
	}))

	opts := DefaultOptions()
	opts.PreserveUserData = false
	opts.ForceReset = true

	report, err := engine.Run(ctx, "s1", opts)
	require.NoError(t, err)
	assert.Contains(t, report.ActionsPerformed, fmt.Sprintf("surfaced queued clarification %s", queued.ID))

	state, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, state.Pending, 1)
	assert.Equal(t, queued.ID, state.Pending[0].ID)
	assert.Empty(t, state.Queue)
	assert.True(t, state.IsWaitingForClarification)
}

func TestRunPreservesOrphanWhenPolicyForbids(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	req := session.NewClarificationRequest(session.AgentCore, "Region?", "bucket setup")
	req.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, store.Update(ctx, "s1", func(state *session.ConversationState) error {
		state.Pending = append(state.Pending, req)
		state.IsWaitingForClarification = true
		return nil
	}))

	report, err := engine.Run(ctx, "s1", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, report.IssuesFound, 1)
	require.Len(t, report.Recommendations, 1)
	assert.Contains(t, report.Recommendations[0], req.ID)
	assert.Empty(t, report.ActionsPerformed)

	state, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, state.Pending, 1)
	assert.True(t, state.IsWaitingForClarification)
}

func TestRunResetsStuckRunningAgent(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	require.NoError(t, store.Update(ctx, "s1", func(state *session.ConversationState) error {
		state.CurrentAgent = session.AgentDiagram
		state.AgentStates[session.AgentCore] = session.AgentRunning
		state.AgentStates[session.AgentDiagram] = session.AgentRunning
		return nil
	}))

	report, err := engine.Run(ctx, "s1", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, report.IssuesFound, 1)
	assert.Contains(t, report.IssuesFound[0], string(session.AgentCore))
	require.Len(t, report.ActionsPerformed, 1)

	state, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.AgentNotStarted, state.AgentStates[session.AgentCore])
	// The current agent keeps running.
	assert.Equal(t, session.AgentRunning, state.AgentStates[session.AgentDiagram])
}

func TestRunInitializesMissingAgentRecords(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	require.NoError(t, store.Update(ctx, "s1", func(state *session.ConversationState) error {
		delete(state.AgentStates, session.AgentTerraform)
		return nil
	}))

	report, err := engine.Run(ctx, "s1", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, report.IssuesFound, 1)
	assert.Contains(t, report.IssuesFound[0], string(session.AgentTerraform))

	state, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.AgentNotStarted, state.AgentStates[session.AgentTerraform])
}

func TestRunRepairsWaitingFlag(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	require.NoError(t, store.Update(ctx, "s1", func(state *session.ConversationState) error {
		state.IsWaitingForClarification = true
		return nil
	}))

	report, err := engine.Run(ctx, "s1", DefaultOptions())
	require.NoError(t, err)
	require.NotEmpty(t, report.IssuesFound)
	assert.Contains(t, report.ActionsPerformed, "repaired waiting flag")

	state, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, state.IsWaitingForClarification)
}

func TestRunReportsMultipleActiveSteps(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	now := time.Now().UTC()
	require.NoError(t, store.Update(ctx, "s1", func(state *session.ConversationState) error {
		state.Steps = []*session.WorkflowStep{
			{ID: "a", Name: "plan", AgentName: session.AgentCore, Status: session.StepActive, StartTime: &now},
			{ID: "b", Name: "design", AgentName: session.AgentDiagram, Status: session.StepActive, StartTime: &now},
		}
		return nil
	}))

	report, err := engine.Run(ctx, "s1", DefaultOptions())
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Contains(t, report.IssuesFound[0], "2 steps active")
	require.NotEmpty(t, report.Recommendations)
}

func TestRunForceResetRevertsSteps(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	now := time.Now().UTC()
	require.NoError(t, store.Update(ctx, "s1", func(state *session.ConversationState) error {
		state.WorkflowPhase = session.PhaseImplementation
		state.CurrentAgent = session.AgentTerraform
		state.AgentStates[session.AgentTerraform] = session.AgentRunning
		state.Steps = []*session.WorkflowStep{
			{ID: "a", Name: "plan", AgentName: session.AgentCore, Status: session.StepCompleted, StartTime: &now, EndTime: &now},
			{ID: "b", Name: "apply", AgentName: session.AgentTerraform, Status: session.StepActive, StartTime: &now},
			{ID: "c", Name: "verify", AgentName: session.AgentTerraform, Status: session.StepFailed, StartTime: &now, EndTime: &now},
		}
		return nil
	}))

	opts := DefaultOptions()
	opts.ForceReset = true

	report, err := engine.Run(ctx, "s1", opts)
	require.NoError(t, err)
	assert.True(t, report.Success)

	state, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.PhasePlanning, state.WorkflowPhase)
	assert.Empty(t, state.CurrentAgent)
	assert.Equal(t, session.AgentNotStarted, state.AgentStates[session.AgentTerraform])

	byID := map[string]*session.WorkflowStep{}
	for _, step := range state.Steps {
		byID[step.ID] = step
	}
	// Completed steps are untouched.
	assert.Equal(t, session.StepCompleted, byID["a"].Status)
	assert.Equal(t, session.StepPending, byID["b"].Status)
	assert.Nil(t, byID["b"].StartTime)
	assert.Equal(t, session.StepPending, byID["c"].Status)
	assert.Nil(t, byID["c"].EndTime)
}

func TestRunNeverDestroysUserData(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	req := session.NewClarificationRequest(session.AgentCore, "Region?", "bucket setup")
	resp := session.NewClarificationResponse(req.ID, "eu-west-1")
	now := time.Now().UTC()
	require.NoError(t, store.Update(ctx, "s1", func(state *session.ConversationState) error {
		state.History[req.ID] = resp
		state.Steps = []*session.WorkflowStep{
			{ID: "a", Name: "plan", AgentName: session.AgentCore, Status: session.StepCompleted, StartTime: &now, EndTime: &now},
		}
		return nil
	}))

	report, err := engine.Run(ctx, "s1", DefaultOptions())
	require.NoError(t, err)
	assert.True(t, report.Success)

	state, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Contains(t, state.History, req.ID)
	assert.Equal(t, "eu-west-1", state.History[req.ID].Answer)
	assert.Equal(t, session.StepCompleted, state.Steps[0].Status)
}

func TestRunTrimsBoundedHistory(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	require.NoError(t, store.Update(ctx, "s1", func(state *session.ConversationState) error {
		for i := 0; i < 10; i++ {
			state.RecordTransition(session.TransitionSession, "s1", "", fmt.Sprintf("tick-%d", i), "")
			state.StepLog = append(state.StepLog, session.StepExecution{
				StepID: fmt.Sprintf("step-%d", i),
				Status: session.StepCompleted,
				At:     time.Now().UTC(),
			})
		}
		return nil
	}))

	opts := DefaultOptions()
	opts.TransitionRetention = 4
	opts.StepHistoryRetention = 5

	report, err := engine.Run(ctx, "s1", opts)
	require.NoError(t, err)
	assert.Contains(t, report.ActionsPerformed, "trimmed 6 old state transitions")
	assert.Contains(t, report.ActionsPerformed, "trimmed 5 old step executions")

	state, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, state.Transitions, 4)
	assert.Equal(t, "tick-6", state.Transitions[0].To)
	require.Len(t, state.StepLog, 5)
	assert.Equal(t, "step-5", state.StepLog[0].StepID)
}
