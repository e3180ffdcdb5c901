package advance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blissfulldev/hitld/internal/session"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults", *DefaultConfig(), false},
		{"always", Config{Preference: Always}, false},
		{"never", Config{Preference: Never}, false},
		{"unknown preference", Config{Preference: "sometimes"}, true},
		{"ask without timeout", Config{Preference: Ask}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDecide(t *testing.T) {
	base := func() *session.ConversationState {
		return session.NewConversationState("s1")
	}

	t.Run("never preference blocks", func(t *testing.T) {
		policy, err := NewPolicy(&Config{Preference: Never})
		require.NoError(t, err)
		d := policy.Decide(base())
		assert.False(t, d.Allowed)
		assert.Contains(t, d.Reason, "never")
	})

	t.Run("pending clarification blocks", func(t *testing.T) {
		policy, err := NewPolicy(&Config{Preference: Always})
		require.NoError(t, err)
		state := base()
		state.Pending = append(state.Pending, session.NewClarificationRequest(session.AgentCore, "Region?", ""))
		state.IsWaitingForClarification = true
		d := policy.Decide(state)
		assert.False(t, d.Allowed)
	})

	t.Run("running current agent blocks", func(t *testing.T) {
		policy, err := NewPolicy(&Config{Preference: Always})
		require.NoError(t, err)
		state := base()
		state.CurrentAgent = session.AgentCore
		state.AgentStates[session.AgentCore] = session.AgentRunning
		d := policy.Decide(state)
		assert.False(t, d.Allowed)
		assert.Contains(t, d.Reason, "running")
	})

	t.Run("waiting current agent blocks", func(t *testing.T) {
		policy, err := NewPolicy(&Config{Preference: Always})
		require.NoError(t, err)
		state := base()
		state.CurrentAgent = session.AgentCore
		state.AgentStates[session.AgentCore] = session.AgentWaiting
		d := policy.Decide(state)
		assert.False(t, d.Allowed)
	})

	t.Run("ask blocks on step requiring input", func(t *testing.T) {
		policy, err := NewPolicy(DefaultConfig())
		require.NoError(t, err)
		state := base()
		state.Steps = []*session.WorkflowStep{
			{ID: "a", Name: "review", AgentName: session.AgentCore, Status: session.StepPending, RequiresInput: true},
		}
		d := policy.Decide(state)
		assert.False(t, d.Allowed)
		assert.Contains(t, d.Reason, "a")
	})

	t.Run("skip optional bypasses input step", func(t *testing.T) {
		policy, err := NewPolicy(&Config{Preference: Ask, SkipOptionalSteps: true, Timeout: time.Second})
		require.NoError(t, err)
		state := base()
		state.Steps = []*session.WorkflowStep{
			{ID: "a", Name: "review", AgentName: session.AgentCore, Status: session.StepPending, RequiresInput: true, IsOptional: true},
		}
		d := policy.Decide(state)
		assert.True(t, d.Allowed)
	})

	t.Run("always proceeds past input step", func(t *testing.T) {
		policy, err := NewPolicy(&Config{Preference: Always})
		require.NoError(t, err)
		state := base()
		state.Steps = []*session.WorkflowStep{
			{ID: "a", Name: "review", AgentName: session.AgentCore, Status: session.StepPending, RequiresInput: true},
		}
		d := policy.Decide(state)
		assert.True(t, d.Allowed)
	})

	t.Run("input step behind unmet dependency ignored", func(t *testing.T) {
		policy, err := NewPolicy(DefaultConfig())
		require.NoError(t, err)
		state := base()
		state.Steps = []*session.WorkflowStep{
			{ID: "a", Name: "plan", AgentName: session.AgentCore, Status: session.StepPending},
			{ID: "b", Name: "review", AgentName: session.AgentCore, Status: session.StepPending, RequiresInput: true, Dependencies: []string{"a"}},
		}
		d := policy.Decide(state)
		assert.True(t, d.Allowed)
	})

	t.Run("clean state advances", func(t *testing.T) {
		policy, err := NewPolicy(&Config{Preference: Always})
		require.NoError(t, err)
		d := policy.Decide(base())
		assert.True(t, d.Allowed)
	})
}
