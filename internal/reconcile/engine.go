package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/blissfulldev/hitld/internal/session"
)

const instrumentationName = "github.com/blissfulldev/hitld/internal/reconcile"

// Engine runs integrity checks against session state. All checks and
// repairs for one session execute inside a single store update, so no
// concurrent writer can observe a half-reconciled state.
type Engine struct {
	store  session.Store
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewEngine creates a reconciliation engine over the given store.
func NewEngine(store session.Store, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run reconciles a single session and returns the report. Success is false
// only when an error-grade issue was found that policy did not allow the
// engine to repair.
func (e *Engine) Run(ctx context.Context, sessionID string, opts *Options) (*Report, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.run")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	if opts == nil {
		opts = DefaultOptions()
	}

	report := &Report{Success: true}
	err := e.store.Update(ctx, sessionID, func(state *session.ConversationState) error {
		e.checkWaitingFlag(state, report)
		e.checkOrphans(state, opts, report)
		e.checkStuckAgents(state, report)
		e.checkMissingAgents(state, report)
		e.checkStepConsistency(state, opts, report)
		if opts.ForceReset {
			e.resetWorkflowState(state, report)
		}
		e.trimHistory(state, opts, report)
		state.Metrics.ReconcileRuns++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile session %s: %w", sessionID, err)
	}

	span.SetAttributes(
		attribute.Int("issues", len(report.IssuesFound)),
		attribute.Int("actions", len(report.ActionsPerformed)),
	)
	e.logger.Info("reconciliation complete",
		zap.String("session_id", sessionID),
		zap.Bool("success", report.Success),
		zap.Int("issues", len(report.IssuesFound)),
		zap.Int("actions", len(report.ActionsPerformed)),
		zap.Int("recommendations", len(report.Recommendations)),
	)
	return report, nil
}

// checkWaitingFlag repairs drift between the waiting flag and the surfaced
// set. Always safe.
func (e *Engine) checkWaitingFlag(state *session.ConversationState, report *Report) {
	want := len(state.Pending) > 0
	if state.IsWaitingForClarification == want {
		return
	}
	report.issue(fmt.Sprintf("waiting flag is %t with %d surfaced clarifications", state.IsWaitingForClarification, len(state.Pending)))
	state.IsWaitingForClarification = want
	state.RecordTransition(session.TransitionSession, state.SessionID, "", "waiting_flag_repaired", "")
	report.action("repaired waiting flag")
}

// checkOrphans flags surfaced clarifications older than the orphan age.
// Removal destroys a question the user may still intend to answer, so it
// happens only when PreserveUserData is off or a forced reset was requested.
func (e *Engine) checkOrphans(state *session.ConversationState, opts *Options, report *Report) {
	if opts.OrphanAge <= 0 {
		return
	}
	cutoff := e.now().Add(-opts.OrphanAge)

	var kept []*session.ClarificationRequest
	for _, req := range state.Pending {
		if !req.CreatedAt.Before(cutoff) {
			kept = append(kept, req)
			continue
		}
		report.issue(fmt.Sprintf("orphaned clarification %s surfaced since %s", req.ID, req.CreatedAt.Format(time.RFC3339)))
		if opts.PreserveUserData && !opts.ForceReset {
			report.recommend(fmt.Sprintf("remove orphaned clarification %s or answer it", req.ID))
			kept = append(kept, req)
			continue
		}
		state.RecordTransition(session.TransitionClarification, req.ID, "surfaced", "removed", "orphaned")
		report.action(fmt.Sprintf("removed orphaned clarification %s", req.ID))
	}
	if len(kept) == len(state.Pending) {
		return
	}
	state.Pending = kept

	// Removal opened a surfaced slot: promote the queue head so buffered
	// questions are never stranded behind an empty surfaced set.
	if len(state.Pending) == 0 && len(state.Queue) > 0 {
		next := state.Queue[0]
		state.Queue = state.Queue[1:]
		state.Pending = append(state.Pending, next)
		state.RecordTransition(session.TransitionClarification, next.ID, "queued", "surfaced", "promoted after orphan removal")
		report.action(fmt.Sprintf("surfaced queued clarification %s", next.ID))
	}
	state.IsWaitingForClarification = len(state.Pending) > 0
}

// checkStuckAgents resets agents marked RUNNING that are not the current
// agent. Only one agent may run at a time, so a second RUNNING record is
// always stale.
func (e *Engine) checkStuckAgents(state *session.ConversationState, report *Report) {
	for _, agent := range session.PipelineOrder() {
		if state.AgentStates[agent] != session.AgentRunning || agent == state.CurrentAgent {
			continue
		}
		report.issue(fmt.Sprintf("agent %s is running but is not the current agent", agent))
		state.AgentStates[agent] = session.AgentNotStarted
		state.RecordTransition(session.TransitionAgent, string(agent), string(session.AgentRunning), string(session.AgentNotStarted), "stuck agent reset")
		report.action(fmt.Sprintf("reset stuck agent %s to not_started", agent))
	}
}

// checkMissingAgents initializes agent records dropped from the state map.
func (e *Engine) checkMissingAgents(state *session.ConversationState, report *Report) {
	if state.AgentStates == nil {
		state.AgentStates = make(map[session.AgentName]session.AgentStatus, len(session.PipelineOrder()))
	}
	for _, agent := range session.PipelineOrder() {
		if _, ok := state.AgentStates[agent]; ok {
			continue
		}
		report.issue(fmt.Sprintf("agent %s missing from state map", agent))
		state.AgentStates[agent] = session.AgentNotStarted
		report.action(fmt.Sprintf("initialized agent %s to not_started", agent))
	}
}

// checkStepConsistency reports step invariant violations. These are not
// auto-corrected outside a forced reset: the engine cannot know which of two
// active steps is the real one.
func (e *Engine) checkStepConsistency(state *session.ConversationState, opts *Options, report *Report) {
	active := state.ActiveSteps()

	if len(active) > 1 {
		report.issue(fmt.Sprintf("%d steps active at once", len(active)))
		if !opts.ForceReset {
			report.recommend("run reconciliation with force reset to revert active steps to pending")
			report.Success = false
		}
	}

	for _, step := range active {
		for _, dep := range step.Dependencies {
			depStep := state.FindStep(dep)
			if depStep == nil || depStep.Status != session.StepCompleted {
				report.issue(fmt.Sprintf("active step %s has unmet dependency %s", step.ID, dep))
				if !opts.ForceReset {
					report.recommend(fmt.Sprintf("complete dependency %s or reset step %s", dep, step.ID))
					report.Success = false
				}
			}
		}
	}

	if len(active) == 0 && state.WorkflowPhase != session.PhaseCompleted {
		pending := 0
		for _, step := range state.Steps {
			if step.Status == session.StepPending {
				pending++
			}
		}
		if pending > 0 {
			report.issue(fmt.Sprintf("%d pending steps with no active step", pending))
		}
	}
}

// resetWorkflowState is the corrective reset applied under ForceReset:
// active and failed steps revert to pending with cleared timestamps, the
// phase drops to planning, and a stuck running current agent goes idle.
// Completed and skipped steps are left alone.
func (e *Engine) resetWorkflowState(state *session.ConversationState, report *Report) {
	for _, step := range state.Steps {
		if step.Status != session.StepActive && step.Status != session.StepFailed {
			continue
		}
		prev := step.Status
		step.Status = session.StepPending
		step.StartTime = nil
		step.EndTime = nil
		state.RecordTransition(session.TransitionStep, step.ID, string(prev), string(session.StepPending), "forced reset")
		report.action(fmt.Sprintf("reset step %s from %s to pending", step.ID, prev))
	}

	if agent := state.CurrentAgent; agent != "" {
		if state.AgentStates[agent] == session.AgentRunning {
			state.AgentStates[agent] = session.AgentNotStarted
			state.RecordTransition(session.TransitionAgent, string(agent), string(session.AgentRunning), string(session.AgentNotStarted), "forced reset")
		}
		state.CurrentAgent = ""
		state.CurrentStepID = ""
		report.action(fmt.Sprintf("cleared current agent %s", agent))
	}

	if state.WorkflowPhase != session.PhasePlanning {
		state.RecordTransition(session.TransitionPhase, state.SessionID, string(state.WorkflowPhase), string(session.PhasePlanning), "forced reset")
		state.WorkflowPhase = session.PhasePlanning
		report.action("reset workflow phase to planning")
	}
}

// trimHistory enforces the retention caps on the transition log and the
// step execution log.
func (e *Engine) trimHistory(state *session.ConversationState, opts *Options, report *Report) {
	if limit := opts.TransitionRetention; limit > 0 && len(state.Transitions) > limit {
		trimmed := len(state.Transitions) - limit
		state.Transitions = append([]session.StateTransition(nil), state.Transitions[trimmed:]...)
		report.action(fmt.Sprintf("trimmed %d old state transitions", trimmed))
	}
	if limit := opts.StepHistoryRetention; limit > 0 && len(state.StepLog) > limit {
		trimmed := len(state.StepLog) - limit
		state.StepLog = append([]session.StepExecution(nil), state.StepLog[trimmed:]...)
		report.action(fmt.Sprintf("trimmed %d old step executions", trimmed))
	}
}
