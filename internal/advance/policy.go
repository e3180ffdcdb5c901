package advance

import (
	"fmt"
	"time"

	"github.com/blissfulldev/hitld/internal/session"
)

// Preference is the user's auto-advance setting.
type Preference string

const (
	// Always advances without asking whenever it is safe.
	Always Preference = "always"
	// Ask advances only after confirmation or a timeout window.
	Ask Preference = "ask"
	// Never requires an explicit user action for every advance.
	Never Preference = "never"
)

// Valid reports whether the preference is a known value.
func (p Preference) Valid() bool {
	switch p {
	case Always, Ask, Never:
		return true
	}
	return false
}

// Config holds the auto-advance policy settings.
type Config struct {
	// Preference selects the advance mode.
	Preference Preference

	// SkipOptionalSteps lets ask mode bypass confirmation when the step
	// requiring input is optional.
	SkipOptionalSteps bool

	// Timeout is the ask-mode wait window before advancing anyway.
	Timeout time.Duration
}

// DefaultConfig returns the conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		Preference:        Ask,
		SkipOptionalSteps: false,
		Timeout:           30 * time.Second,
	}
}

// Validate checks the config for usable values.
func (c *Config) Validate() error {
	if !c.Preference.Valid() {
		return fmt.Errorf("unknown auto-advance preference: %s", c.Preference)
	}
	if c.Preference == Ask && c.Timeout <= 0 {
		return fmt.Errorf("ask mode requires a positive timeout, got %v", c.Timeout)
	}
	return nil
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

// Policy evaluates whether a session may auto-advance.
type Policy struct {
	config *Config
}

// NewPolicy creates an auto-advance policy.
func NewPolicy(cfg *Config) (*Policy, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Policy{config: cfg}, nil
}

// Config returns the policy settings.
func (p *Policy) Config() *Config {
	return p.config
}

// Decide evaluates the policy against a state snapshot. Rules apply in
// order; the first matching rule wins.
func (p *Policy) Decide(state *session.ConversationState) Decision {
	if p.config.Preference == Never {
		return Decision{Reason: "auto-advance preference is never"}
	}
	if state.IsWaitingForClarification || len(state.Pending) > 0 {
		return Decision{Reason: "a clarification is waiting for an answer"}
	}
	if agent := state.CurrentAgent; agent != "" {
		switch state.AgentStates[agent] {
		case session.AgentRunning:
			return Decision{Reason: fmt.Sprintf("agent %s is still running", agent)}
		case session.AgentWaiting:
			return Decision{Reason: fmt.Sprintf("agent %s is waiting for clarification", agent)}
		}
	}

	if next := nextPendingStep(state); next != nil && next.RequiresInput {
		if next.IsOptional && p.config.SkipOptionalSteps {
			return Decision{Allowed: true, Reason: fmt.Sprintf("optional step %s skipped per policy", next.ID)}
		}
		if p.config.Preference == Ask {
			return Decision{Reason: fmt.Sprintf("next step %s requires user input", next.ID)}
		}
	}

	return Decision{Allowed: true, Reason: "no blockers"}
}

// nextPendingStep returns the first pending step whose dependencies are all
// completed, or nil.
func nextPendingStep(state *session.ConversationState) *session.WorkflowStep {
	for _, step := range state.Steps {
		if step.Status != session.StepPending {
			continue
		}
		ready := true
		for _, dep := range step.Dependencies {
			depStep := state.FindStep(dep)
			if depStep == nil || depStep.Status != session.StepCompleted {
				ready = false
				break
			}
		}
		if ready {
			return step
		}
	}
	return nil
}
