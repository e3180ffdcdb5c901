package recovery

import (
	"sort"

	"github.com/blissfulldev/hitld/internal/session"
)

// Prerequisite vocabulary evaluated against session state.
const (
	PrereqNoPendingClarifications = "no_pending_clarifications"
	PrereqNoCurrentAgent          = "no_current_agent"
	PrereqHasCurrentAgent         = "has_current_agent"
	PrereqHasAnsweredQuestions    = "has_answered_questions"
)

// Recovery option ids understood by the service's executor.
const (
	OptionRunReconciliation = "run_reconciliation"
	OptionClearCurrentAgent = "clear_current_agent"
	OptionRetryOperation    = "retry_operation"
	OptionReaskQuestion     = "reask_question"
	OptionAwaitUser         = "await_user"
	OptionRestartSession    = "restart_session"
)

// optionsForType returns the static recovery catalog for an error type,
// already sorted low-risk/high-success first. Never empty.
func optionsForType(t ErrorType) []RecoveryOption {
	var opts []RecoveryOption
	switch t {
	case ErrQuestionProcessing:
		opts = []RecoveryOption{
			{ID: OptionRetryOperation, Description: "Retry processing the clarification", RiskLevel: RiskLow, EstimatedSuccessRate: 0.8, AutoExecutable: true},
			{ID: OptionReaskQuestion, Description: "Surface the question again with fallback enrichment", RiskLevel: RiskLow, EstimatedSuccessRate: 0.7, Prerequisites: []string{PrereqNoPendingClarifications}, AutoExecutable: true},
			{ID: OptionAwaitUser, Description: "Wait for the user to rephrase or answer manually", RiskLevel: RiskLow, EstimatedSuccessRate: 0.95},
		}
	case ErrStateSync:
		opts = []RecoveryOption{
			{ID: OptionRunReconciliation, Description: "Run state reconciliation", RiskLevel: RiskLow, EstimatedSuccessRate: 0.9, AutoExecutable: true},
			{ID: OptionClearCurrentAgent, Description: "Clear the current agent and re-derive the next one", RiskLevel: RiskMedium, EstimatedSuccessRate: 0.7, Prerequisites: []string{PrereqHasCurrentAgent}, AutoExecutable: true},
			{ID: OptionRestartSession, Description: "Reset the session workflow state", RiskLevel: RiskHigh, EstimatedSuccessRate: 0.95},
		}
	case ErrValidation:
		opts = []RecoveryOption{
			{ID: OptionAwaitUser, Description: "Ask the user to correct the answer", RiskLevel: RiskLow, EstimatedSuccessRate: 0.95},
			{ID: OptionReaskQuestion, Description: "Re-surface the question with examples", RiskLevel: RiskLow, EstimatedSuccessRate: 0.75, AutoExecutable: true},
		}
	case ErrAutoAdvance:
		opts = []RecoveryOption{
			{ID: OptionAwaitUser, Description: "Fall back to manual advance", RiskLevel: RiskLow, EstimatedSuccessRate: 0.95, AutoExecutable: true},
			{ID: OptionRetryOperation, Description: "Re-evaluate the advance decision", RiskLevel: RiskLow, EstimatedSuccessRate: 0.6, Prerequisites: []string{PrereqNoPendingClarifications}, AutoExecutable: true},
		}
	case ErrAgentExecution:
		opts = []RecoveryOption{
			{ID: OptionRetryOperation, Description: "Retry the agent run", RiskLevel: RiskMedium, EstimatedSuccessRate: 0.6, Prerequisites: []string{PrereqHasCurrentAgent}, AutoExecutable: true},
			{ID: OptionClearCurrentAgent, Description: "Clear the failed agent and pick the next one", RiskLevel: RiskMedium, EstimatedSuccessRate: 0.7, Prerequisites: []string{PrereqHasCurrentAgent}, AutoExecutable: true},
			{ID: OptionAwaitUser, Description: "Wait for the user to decide how to proceed", RiskLevel: RiskLow, EstimatedSuccessRate: 0.95},
		}
	case ErrUserAction:
		opts = []RecoveryOption{
			{ID: OptionAwaitUser, Description: "Wait for the next user action", RiskLevel: RiskLow, EstimatedSuccessRate: 1.0},
		}
	default: // system_failure and anything unmapped
		opts = []RecoveryOption{
			{ID: OptionRunReconciliation, Description: "Run state reconciliation", RiskLevel: RiskLow, EstimatedSuccessRate: 0.5, AutoExecutable: true},
			{ID: OptionRestartSession, Description: "Reset the session workflow state", RiskLevel: RiskHigh, EstimatedSuccessRate: 0.9},
			{ID: OptionAwaitUser, Description: "Escalate to the user", RiskLevel: RiskLow, EstimatedSuccessRate: 0.95},
		}
	}
	sortOptions(opts)
	return opts
}

// sortOptions orders options low-risk first, then by success rate
// descending. Stable so catalog order breaks ties.
func sortOptions(opts []RecoveryOption) {
	sort.SliceStable(opts, func(i, j int) bool {
		if riskRank(opts[i].RiskLevel) != riskRank(opts[j].RiskLevel) {
			return riskRank(opts[i].RiskLevel) < riskRank(opts[j].RiskLevel)
		}
		return opts[i].EstimatedSuccessRate > opts[j].EstimatedSuccessRate
	})
}

// SelectOptions filters an error's options to those whose prerequisites
// hold in the given state, preserving the sorted order.
func SelectOptions(classified *ClassifiedError, state *session.ConversationState) []RecoveryOption {
	var selected []RecoveryOption
	for _, opt := range classified.Options {
		if prerequisitesHold(opt, state) {
			selected = append(selected, opt)
		}
	}
	return selected
}

func prerequisitesHold(opt RecoveryOption, state *session.ConversationState) bool {
	for _, p := range opt.Prerequisites {
		if !prerequisiteHolds(p, state) {
			return false
		}
	}
	return true
}

// prerequisiteHolds evaluates one predicate. Unknown predicates fail
// closed.
func prerequisiteHolds(p string, state *session.ConversationState) bool {
	if state == nil {
		return false
	}
	switch p {
	case PrereqNoPendingClarifications:
		return len(state.Pending) == 0
	case PrereqNoCurrentAgent:
		return state.CurrentAgent == ""
	case PrereqHasCurrentAgent:
		return state.CurrentAgent != ""
	case PrereqHasAnsweredQuestions:
		return len(state.History) > 0
	default:
		return false
	}
}
