package orchestrator

import (
	"time"

	"github.com/blissfulldev/hitld/internal/session"
)

// WorkflowAction is the closed set of next-action decisions. The sealed
// marker method keeps the variant set fixed so switches over actions stay
// exhaustive.
type WorkflowAction interface {
	isWorkflowAction()
}

// RunAgent instructs the caller to execute the named agent.
type RunAgent struct {
	Agent session.AgentName

	// StepID names the step to work, when the workflow defines steps.
	StepID string
}

// AwaitClarification instructs the caller to collect answers for the
// surfaced clarifications.
type AwaitClarification struct {
	Pending []*session.ClarificationRequest
}

// AwaitApproval instructs the caller to confirm the next agent through an
// ask-mode gate before running it.
type AwaitApproval struct {
	Next    session.AgentName
	Timeout time.Duration
}

// Reconcile instructs the caller to repair the session before anything
// else runs.
type Reconcile struct {
	Reason string
}

// Complete reports that every agent has finished.
type Complete struct{}

func (RunAgent) isWorkflowAction()           {}
func (AwaitClarification) isWorkflowAction() {}
func (AwaitApproval) isWorkflowAction()      {}
func (Reconcile) isWorkflowAction()          {}
func (Complete) isWorkflowAction()           {}
