package recovery

import "time"

// ErrorType is the fixed failure taxonomy.
type ErrorType string

const (
	ErrQuestionProcessing ErrorType = "question_processing"
	ErrStateSync          ErrorType = "state_sync"
	ErrValidation         ErrorType = "validation"
	ErrAutoAdvance        ErrorType = "auto_advance"
	ErrAgentExecution     ErrorType = "agent_execution"
	ErrUserAction         ErrorType = "user_action"
	ErrSystemFailure      ErrorType = "system_failure"
)

// ErrorTypes returns the taxonomy in stable order.
func ErrorTypes() []ErrorType {
	return []ErrorType{
		ErrQuestionProcessing,
		ErrStateSync,
		ErrValidation,
		ErrAutoAdvance,
		ErrAgentExecution,
		ErrUserAction,
		ErrSystemFailure,
	}
}

// Severity grades how badly a failure affects the session.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// RiskLevel grades how dangerous a recovery option is to apply.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// riskRank orders risk levels for option sorting.
func riskRank(r RiskLevel) int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	default:
		return 2
	}
}

// ClassifiedError is a failure after classification.
type ClassifiedError struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      ErrorType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`

	// Options is the ordered recovery-option list. Never empty.
	Options []RecoveryOption `json:"options"`
}

// RecoveryOption is one candidate corrective action.
type RecoveryOption struct {
	ID                   string    `json:"id"`
	Description          string    `json:"description"`
	RiskLevel            RiskLevel `json:"risk_level"`
	EstimatedSuccessRate float64   `json:"estimated_success_rate"`

	// Prerequisites are state predicates that must hold before the option
	// may run. See prerequisiteHolds for the vocabulary.
	Prerequisites []string `json:"prerequisites,omitempty"`

	// AutoExecutable marks options safe to run without a human.
	AutoExecutable bool `json:"auto_executable,omitempty"`
}

// HandledError is what the caller (and ultimately the user) sees after a
// failure went through the recovery pipeline.
type HandledError struct {
	ErrorID            string    `json:"error_id"`
	Type               ErrorType `json:"type"`
	Severity           Severity  `json:"severity"`
	Message            string    `json:"message"`
	NextSteps          []string  `json:"next_steps"`
	RequiresUserAction bool      `json:"requires_user_action"`

	// Recovered reports whether an automatic recovery action succeeded.
	Recovered bool `json:"recovered,omitempty"`

	// RecoveryApplied names the executed option, when any.
	RecoveryApplied string `json:"recovery_applied,omitempty"`
}
