package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blissfulldev/hitld/internal/session"
)

// ErrStepNotFound is returned for operations on unknown step ids.
var ErrStepNotFound = errors.New("workflow step not found")

// ErrStepNotReady is returned when a step cannot become active because a
// dependency is not completed or another step is already active.
var ErrStepNotReady = errors.New("workflow step not ready to activate")

// Machine mutates agent and step state through the session store. All
// operations run inside the store's per-session serialization.
type Machine struct {
	store  session.Store
	logger *zap.Logger
}

// NewMachine creates an agent state machine over the given store.
func NewMachine(store session.Store, logger *zap.Logger) (*Machine, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{store: store, logger: logger}, nil
}

// SetCurrentAgent makes the agent the session's current agent and marks it
// RUNNING. An unknown agent name is a no-op, matching the tolerant contract
// of the state machine: callers retry with a valid agent, nothing breaks.
// An optional step id records which step the agent is working.
func (m *Machine) SetCurrentAgent(ctx context.Context, sessionID string, agent session.AgentName, stepID string) error {
	if !agent.Valid() {
		m.logger.Warn("ignoring unknown agent",
			zap.String("session_id", sessionID),
			zap.String("agent", string(agent)),
		)
		return nil
	}

	return m.store.Update(ctx, sessionID, func(state *session.ConversationState) error {
		// Only one agent may be RUNNING and it must be the current agent.
		// Demote a displaced running agent before handing over.
		if old := state.CurrentAgent; old != "" && old != agent && state.AgentStates[old] == session.AgentRunning {
			state.AgentStates[old] = session.AgentNotStarted
			state.RecordTransition(session.TransitionAgent, string(old), string(session.AgentRunning), string(session.AgentNotStarted), "displaced by new current agent")
		}

		prev := state.AgentStates[agent]
		state.CurrentAgent = agent
		state.CurrentStepID = stepID
		state.AgentStates[agent] = session.AgentRunning
		if prev != session.AgentRunning {
			state.RecordTransition(session.TransitionAgent, string(agent), string(prev), string(session.AgentRunning), "set current agent")
		}
		return nil
	})
}

// MarkAgentCompleted marks the agent COMPLETED and re-derives the workflow
// phase. Phase derivation is monotonic: completing agents never moves the
// phase backwards.
func (m *Machine) MarkAgentCompleted(ctx context.Context, sessionID string, agent session.AgentName) error {
	if !agent.Valid() {
		return fmt.Errorf("unknown agent: %s", agent)
	}

	return m.store.Update(ctx, sessionID, func(state *session.ConversationState) error {
		prev := state.AgentStates[agent]
		state.AgentStates[agent] = session.AgentCompleted
		if state.CurrentAgent == agent {
			state.CurrentAgent = ""
			state.CurrentStepID = ""
		}
		state.RecordTransition(session.TransitionAgent, string(agent), string(prev), string(session.AgentCompleted), "")

		derived := DerivePhase(state.AgentStates)
		next := session.MaxPhase(state.WorkflowPhase, derived)
		if next != state.WorkflowPhase {
			state.RecordTransition(session.TransitionPhase, sessionID, string(state.WorkflowPhase), string(next), "")
			state.WorkflowPhase = next
		}
		return nil
	})
}

// MarkAgentFailed marks the agent FAILED and clears it as current agent.
func (m *Machine) MarkAgentFailed(ctx context.Context, sessionID string, agent session.AgentName, reason string) error {
	if !agent.Valid() {
		return fmt.Errorf("unknown agent: %s", agent)
	}

	return m.store.Update(ctx, sessionID, func(state *session.ConversationState) error {
		prev := state.AgentStates[agent]
		state.AgentStates[agent] = session.AgentFailed
		if state.CurrentAgent == agent {
			state.CurrentAgent = ""
			state.CurrentStepID = ""
		}
		state.RecordTransition(session.TransitionAgent, string(agent), string(prev), string(session.AgentFailed), reason)
		return nil
	})
}

// GetNextAgent returns the agent the pipeline should run next, or false
// when every agent is completed.
func (m *Machine) GetNextAgent(ctx context.Context, sessionID string) (session.AgentName, bool, error) {
	state, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return "", false, err
	}
	agent, ok := NextAgent(state.AgentStates, state.CurrentAgent)
	return agent, ok, nil
}

// ClearCurrentAgent reverts a RUNNING current agent to NOT_STARTED and
// unsets it. Used on abnormal termination.
func (m *Machine) ClearCurrentAgent(ctx context.Context, sessionID string) error {
	return m.store.Update(ctx, sessionID, func(state *session.ConversationState) error {
		agent := state.CurrentAgent
		if agent == "" {
			return nil
		}
		if state.AgentStates[agent] == session.AgentRunning {
			state.AgentStates[agent] = session.AgentNotStarted
			state.RecordTransition(session.TransitionAgent, string(agent), string(session.AgentRunning), string(session.AgentNotStarted), "cleared current agent")
		}
		state.CurrentAgent = ""
		state.CurrentStepID = ""
		return nil
	})
}

// AddStep appends a step definition to the session's workflow.
func (m *Machine) AddStep(ctx context.Context, sessionID string, step *session.WorkflowStep) error {
	if step == nil || step.ID == "" {
		return errors.New("step with id is required")
	}

	return m.store.Update(ctx, sessionID, func(state *session.ConversationState) error {
		if state.FindStep(step.ID) != nil {
			return fmt.Errorf("step already exists: %s", step.ID)
		}
		// Keep a private copy so the caller's pointer cannot mutate state
		// outside the session lock.
		cp := step.Clone()
		if cp.Status == "" {
			cp.Status = session.StepPending
		}
		state.Steps = append(state.Steps, cp)
		return nil
	})
}

// ActivateStep marks a step active. A step may become active only if no
// other step is active and every dependency is completed.
func (m *Machine) ActivateStep(ctx context.Context, sessionID, stepID string) error {
	return m.store.Update(ctx, sessionID, func(state *session.ConversationState) error {
		step := state.FindStep(stepID)
		if step == nil {
			return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
		}
		if active := state.ActiveSteps(); len(active) > 0 {
			return fmt.Errorf("%w: step %s is already active", ErrStepNotReady, active[0].ID)
		}
		for _, dep := range step.Dependencies {
			depStep := state.FindStep(dep)
			if depStep == nil || depStep.Status != session.StepCompleted {
				return fmt.Errorf("%w: dependency %s not completed", ErrStepNotReady, dep)
			}
		}

		now := time.Now().UTC()
		prev := step.Status
		step.Status = session.StepActive
		step.StartTime = &now
		state.CurrentStepID = step.ID
		m.logStep(state, step, prev)
		return nil
	})
}

// CompleteStep marks an active or waiting step completed.
func (m *Machine) CompleteStep(ctx context.Context, sessionID, stepID string) error {
	return m.setStepStatus(ctx, sessionID, stepID, session.StepCompleted)
}

// FailStep marks a step failed.
func (m *Machine) FailStep(ctx context.Context, sessionID, stepID string) error {
	return m.setStepStatus(ctx, sessionID, stepID, session.StepFailed)
}

// SkipStep marks an optional step skipped. Skipping a required step is an
// error.
func (m *Machine) SkipStep(ctx context.Context, sessionID, stepID string) error {
	return m.store.Update(ctx, sessionID, func(state *session.ConversationState) error {
		step := state.FindStep(stepID)
		if step == nil {
			return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
		}
		if !step.IsOptional {
			return fmt.Errorf("cannot skip required step %s", stepID)
		}
		prev := step.Status
		step.Status = session.StepSkipped
		if state.CurrentStepID == step.ID {
			state.CurrentStepID = ""
		}
		m.logStep(state, step, prev)
		return nil
	})
}

func (m *Machine) setStepStatus(ctx context.Context, sessionID, stepID string, status session.StepStatus) error {
	return m.store.Update(ctx, sessionID, func(state *session.ConversationState) error {
		step := state.FindStep(stepID)
		if step == nil {
			return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
		}
		prev := step.Status
		step.Status = status
		now := time.Now().UTC()
		step.EndTime = &now
		if state.CurrentStepID == step.ID {
			state.CurrentStepID = ""
		}
		m.logStep(state, step, prev)
		return nil
	})
}

// logStep records step movement in both the transition log and the step
// execution log.
func (m *Machine) logStep(state *session.ConversationState, step *session.WorkflowStep, prev session.StepStatus) {
	state.RecordTransition(session.TransitionStep, step.ID, string(prev), string(step.Status), "")
	state.StepLog = append(state.StepLog, session.StepExecution{
		StepID: step.ID,
		Status: step.Status,
		At:     time.Now().UTC(),
	})
}
