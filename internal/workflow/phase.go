package workflow

import "github.com/blissfulldev/hitld/internal/session"

// DerivePhase computes the overall workflow phase from agent statuses.
//
// The pipeline's last agent completing means the workflow is complete;
// otherwise the phase reflects how deep into the pipeline execution has
// progressed.
func DerivePhase(states map[session.AgentName]session.AgentStatus) session.WorkflowPhase {
	switch {
	case states[session.AgentTerraform] == session.AgentCompleted:
		return session.PhaseCompleted
	case states[session.AgentTerraform] == session.AgentRunning,
		states[session.AgentDiagram] == session.AgentCompleted:
		return session.PhaseImplementation
	case states[session.AgentDiagram] == session.AgentRunning,
		states[session.AgentCore] == session.AgentCompleted:
		return session.PhaseDesign
	default:
		return session.PhasePlanning
	}
}

// NextAgent applies the pipeline's total order to the given statuses: the
// first agent that is NOT_STARTED or WAITING_FOR_CLARIFICATION runs next.
// A RUNNING current agent is returned unchanged. When every agent is
// completed the second return is false.
func NextAgent(states map[session.AgentName]session.AgentStatus, current session.AgentName) (session.AgentName, bool) {
	if current != "" && states[current] == session.AgentRunning {
		return current, true
	}
	for _, agent := range session.PipelineOrder() {
		switch states[agent] {
		case session.AgentNotStarted, session.AgentWaiting:
			return agent, true
		}
	}
	return "", false
}
