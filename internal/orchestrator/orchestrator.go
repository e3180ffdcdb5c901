package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/blissfulldev/hitld/internal/advance"
	"github.com/blissfulldev/hitld/internal/assist"
	"github.com/blissfulldev/hitld/internal/clarification"
	"github.com/blissfulldev/hitld/internal/metrics"
	"github.com/blissfulldev/hitld/internal/reconcile"
	"github.com/blissfulldev/hitld/internal/recovery"
	"github.com/blissfulldev/hitld/internal/session"
	"github.com/blissfulldev/hitld/internal/workflow"
)

// Deps are the collaborators an Orchestrator composes. Store, Machine,
// Clarifications, Reconciler, and Policy are required; the rest degrade to
// built-in fallbacks when nil.
type Deps struct {
	Store          session.Store
	Machine        *workflow.Machine
	Clarifications clarification.Manager
	Reconciler     *reconcile.Engine
	Policy         *advance.Policy
	Recovery       *recovery.Service
	Guide          assist.Guide
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// Orchestrator exposes the pipeline's operation surface.
type Orchestrator struct {
	store          session.Store
	machine        *workflow.Machine
	clarifications clarification.Manager
	reconciler     *reconcile.Engine
	policy         *advance.Policy
	recovery       *recovery.Service
	guide          assist.Guide
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// New creates an orchestrator from its collaborators.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("session store is required")
	}
	if deps.Machine == nil {
		return nil, errors.New("workflow machine is required")
	}
	if deps.Clarifications == nil {
		return nil, errors.New("clarification manager is required")
	}
	if deps.Reconciler == nil {
		return nil, errors.New("reconciliation engine is required")
	}
	if deps.Policy == nil {
		return nil, errors.New("auto-advance policy is required")
	}
	if deps.Guide == nil {
		deps.Guide = assist.FallbackGuide{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Orchestrator{
		store:          deps.Store,
		machine:        deps.Machine,
		clarifications: deps.Clarifications,
		reconciler:     deps.Reconciler,
		policy:         deps.Policy,
		recovery:       deps.Recovery,
		guide:          deps.Guide,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
	}, nil
}

// GetState returns a snapshot of the session.
func (o *Orchestrator) GetState(ctx context.Context, sessionID string) (*session.ConversationState, error) {
	return o.store.Get(ctx, sessionID)
}

// AddClarificationRequest registers an agent question.
func (o *Orchestrator) AddClarificationRequest(ctx context.Context, sessionID string, req *session.ClarificationRequest) (*clarification.AddResult, error) {
	result, err := o.clarifications.AddRequest(ctx, sessionID, req)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.ClarificationsRequested.Inc()
		if result.Queued {
			o.metrics.ClarificationsQueued.Inc()
		}
		if result.Reused {
			o.metrics.AnswersReused.Inc()
		}
	}
	return result, nil
}

// AddClarificationResponse records a user answer.
func (o *Orchestrator) AddClarificationResponse(ctx context.Context, sessionID string, resp *session.ClarificationResponse) error {
	if err := o.clarifications.AddResponse(ctx, sessionID, resp); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.ClarificationsAnswered.Inc()
	}
	return nil
}

// IsWaitingForClarification reports whether any clarification is surfaced.
func (o *Orchestrator) IsWaitingForClarification(ctx context.Context, sessionID string) (bool, error) {
	return o.clarifications.IsWaiting(ctx, sessionID)
}

// GetPendingClarifications returns the surfaced requests in order.
func (o *Orchestrator) GetPendingClarifications(ctx context.Context, sessionID string) ([]*session.ClarificationRequest, error) {
	return o.clarifications.Pending(ctx, sessionID)
}

// GetAllClarificationResponses returns every recorded response.
func (o *Orchestrator) GetAllClarificationResponses(ctx context.Context, sessionID string) ([]*session.ClarificationResponse, error) {
	return o.clarifications.Responses(ctx, sessionID)
}

// SetCurrentAgent marks the agent running, optionally on a step.
func (o *Orchestrator) SetCurrentAgent(ctx context.Context, sessionID string, agent session.AgentName, stepID string) error {
	return o.machine.SetCurrentAgent(ctx, sessionID, agent, stepID)
}

// ClearCurrentAgent unsets the current agent.
func (o *Orchestrator) ClearCurrentAgent(ctx context.Context, sessionID string) error {
	return o.machine.ClearCurrentAgent(ctx, sessionID)
}

// GetNextAgent returns the next runnable agent, or false when the pipeline
// is complete.
func (o *Orchestrator) GetNextAgent(ctx context.Context, sessionID string) (session.AgentName, bool, error) {
	return o.machine.GetNextAgent(ctx, sessionID)
}

// MarkAgentCompleted completes the agent and advances the phase.
func (o *Orchestrator) MarkAgentCompleted(ctx context.Context, sessionID string, agent session.AgentName) error {
	return o.machine.MarkAgentCompleted(ctx, sessionID, agent)
}

// MarkAgentFailed fails the agent.
func (o *Orchestrator) MarkAgentFailed(ctx context.Context, sessionID string, agent session.AgentName, reason string) error {
	return o.machine.MarkAgentFailed(ctx, sessionID, agent, reason)
}

// ClearState destroys the session.
func (o *Orchestrator) ClearState(ctx context.Context, sessionID string) error {
	if err := o.store.Clear(ctx, sessionID); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.SessionsCleared.Inc()
	}
	return nil
}

// PerformStateReconciliation runs the integrity checks for a session.
func (o *Orchestrator) PerformStateReconciliation(ctx context.Context, sessionID string, opts *reconcile.Options) (*reconcile.Report, error) {
	report, err := o.reconciler.Run(ctx, sessionID, opts)
	if err != nil {
		if o.metrics != nil {
			o.metrics.ReconcileRuns.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.ReconcileRuns.WithLabelValues(reconcileOutcome(report)).Inc()
	}
	return report, nil
}

func reconcileOutcome(report *reconcile.Report) string {
	switch {
	case !report.Success:
		return "issues"
	case len(report.ActionsPerformed) > 0:
		return "repaired"
	default:
		return "clean"
	}
}

// CanAutoAdvance evaluates the auto-advance policy for the session.
func (o *Orchestrator) CanAutoAdvance(ctx context.Context, sessionID string) (bool, string, error) {
	state, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return false, "", err
	}
	decision := o.policy.Decide(state)
	if o.metrics != nil {
		o.metrics.AutoAdvanceDecisions.WithLabelValues(fmt.Sprintf("%t", decision.Allowed)).Inc()
	}
	return decision.Allowed, decision.Reason, nil
}

// NewAdvanceGate returns an ask-mode confirmation gate configured with the
// policy timeout.
func (o *Orchestrator) NewAdvanceGate() *advance.Gate {
	return advance.NewGate(o.policy.Config().Timeout)
}

// DetermineNextAction reduces the session to the next workflow action.
func (o *Orchestrator) DetermineNextAction(ctx context.Context, sessionID string) (WorkflowAction, error) {
	state, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if state.IsWaitingForClarification != (len(state.Pending) > 0) {
		return Reconcile{Reason: "waiting flag does not match surfaced clarifications"}, nil
	}
	if len(state.Pending) > 0 {
		return AwaitClarification{Pending: state.Pending}, nil
	}

	if agent := state.CurrentAgent; agent != "" && state.AgentStates[agent] == session.AgentRunning {
		return RunAgent{Agent: agent, StepID: state.CurrentStepID}, nil
	}

	next, ok := workflow.NextAgent(state.AgentStates, state.CurrentAgent)
	if !ok {
		return Complete{}, nil
	}

	decision := o.policy.Decide(state)
	if o.metrics != nil {
		o.metrics.AutoAdvanceDecisions.WithLabelValues(fmt.Sprintf("%t", decision.Allowed)).Inc()
	}
	if decision.Allowed {
		return RunAgent{Agent: next}, nil
	}

	o.logger.Debug("auto-advance withheld",
		zap.String("session_id", sessionID),
		zap.String("next_agent", string(next)),
		zap.String("reason", decision.Reason),
	)
	timeout := o.policy.Config().Timeout
	if o.policy.Config().Preference == advance.Never {
		timeout = 0
	}
	return AwaitApproval{Next: next, Timeout: timeout}, nil
}

// Guidance returns a human-readable summary of the session.
func (o *Orchestrator) Guidance(ctx context.Context, sessionID string) (string, error) {
	state, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	summary, err := o.guide.Summarize(ctx, state)
	if err != nil {
		o.logger.Warn("guidance generation failed, using fallback", zap.Error(err))
		return assist.FallbackGuide{}.Summarize(ctx, state)
	}
	return summary, nil
}

// HandleError routes a failure through classification and recovery. Without
// a recovery service the error is wrapped into a minimal handled form.
func (o *Orchestrator) HandleError(ctx context.Context, sessionID string, cause error) *recovery.HandledError {
	if o.recovery != nil {
		return o.recovery.Handle(ctx, sessionID, cause)
	}
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	return &recovery.HandledError{
		Type:               recovery.ErrSystemFailure,
		Severity:           recovery.SeverityError,
		Message:            message,
		NextSteps:          []string{"run state reconciliation and retry"},
		RequiresUserAction: true,
	}
}
