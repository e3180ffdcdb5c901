package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blissfulldev/hitld/internal/session"
)

func statuses(core, diagram, terraform session.AgentStatus) map[session.AgentName]session.AgentStatus {
	return map[session.AgentName]session.AgentStatus{
		session.AgentCore:      core,
		session.AgentDiagram:   diagram,
		session.AgentTerraform: terraform,
	}
}

func TestDerivePhase(t *testing.T) {
	tests := []struct {
		name   string
		states map[session.AgentName]session.AgentStatus
		want   session.WorkflowPhase
	}{
		{
			name:   "nothing started",
			states: statuses(session.AgentNotStarted, session.AgentNotStarted, session.AgentNotStarted),
			want:   session.PhasePlanning,
		},
		{
			name:   "core running",
			states: statuses(session.AgentRunning, session.AgentNotStarted, session.AgentNotStarted),
			want:   session.PhasePlanning,
		},
		{
			name:   "core completed",
			states: statuses(session.AgentCompleted, session.AgentNotStarted, session.AgentNotStarted),
			want:   session.PhaseDesign,
		},
		{
			name:   "diagram running",
			states: statuses(session.AgentCompleted, session.AgentRunning, session.AgentNotStarted),
			want:   session.PhaseDesign,
		},
		{
			name:   "diagram completed",
			states: statuses(session.AgentCompleted, session.AgentCompleted, session.AgentNotStarted),
			want:   session.PhaseImplementation,
		},
		{
			name:   "terraform running",
			states: statuses(session.AgentCompleted, session.AgentCompleted, session.AgentRunning),
			want:   session.PhaseImplementation,
		},
		{
			name:   "terraform completed",
			states: statuses(session.AgentCompleted, session.AgentCompleted, session.AgentCompleted),
			want:   session.PhaseCompleted,
		},
		{
			name:   "terraform completed alone still completes",
			states: statuses(session.AgentNotStarted, session.AgentNotStarted, session.AgentCompleted),
			want:   session.PhaseCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DerivePhase(tt.states))
		})
	}
}

func TestNextAgent(t *testing.T) {
	t.Run("fresh pipeline starts with core", func(t *testing.T) {
		agent, ok := NextAgent(statuses(session.AgentNotStarted, session.AgentNotStarted, session.AgentNotStarted), "")
		assert.True(t, ok)
		assert.Equal(t, session.AgentCore, agent)
	})

	t.Run("running current agent returned unchanged", func(t *testing.T) {
		agent, ok := NextAgent(statuses(session.AgentCompleted, session.AgentRunning, session.AgentNotStarted), session.AgentDiagram)
		assert.True(t, ok)
		assert.Equal(t, session.AgentDiagram, agent)
	})

	t.Run("waiting agent is runnable", func(t *testing.T) {
		agent, ok := NextAgent(statuses(session.AgentWaiting, session.AgentNotStarted, session.AgentNotStarted), "")
		assert.True(t, ok)
		assert.Equal(t, session.AgentCore, agent)
	})

	t.Run("completed agents are skipped", func(t *testing.T) {
		agent, ok := NextAgent(statuses(session.AgentCompleted, session.AgentCompleted, session.AgentNotStarted), "")
		assert.True(t, ok)
		assert.Equal(t, session.AgentTerraform, agent)
	})

	t.Run("all completed means workflow complete", func(t *testing.T) {
		_, ok := NextAgent(statuses(session.AgentCompleted, session.AgentCompleted, session.AgentCompleted), "")
		assert.False(t, ok)
	})

	t.Run("failed agent is not rerun implicitly", func(t *testing.T) {
		agent, ok := NextAgent(statuses(session.AgentFailed, session.AgentNotStarted, session.AgentNotStarted), "")
		assert.True(t, ok)
		assert.Equal(t, session.AgentDiagram, agent)
	})
}
