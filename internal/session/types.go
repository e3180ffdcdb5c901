package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AgentName identifies a named stage of the pipeline.
type AgentName string

const (
	// AgentCore plans the overall architecture.
	AgentCore AgentName = "core_agent"
	// AgentDiagram produces the design diagrams.
	AgentDiagram AgentName = "diagram_agent"
	// AgentTerraform generates the implementation artifacts.
	AgentTerraform AgentName = "terraform_agent"
)

// PipelineOrder returns all agents in pipeline execution order.
func PipelineOrder() []AgentName {
	return []AgentName{AgentCore, AgentDiagram, AgentTerraform}
}

// Valid reports whether the agent name is part of the pipeline.
func (a AgentName) Valid() bool {
	for _, known := range PipelineOrder() {
		if a == known {
			return true
		}
	}
	return false
}

// AgentStatus is the lifecycle state of a single agent.
type AgentStatus string

const (
	AgentNotStarted AgentStatus = "not_started"
	AgentRunning    AgentStatus = "running"
	AgentWaiting    AgentStatus = "waiting_for_clarification"
	AgentCompleted  AgentStatus = "completed"
	AgentFailed     AgentStatus = "failed"
)

// WorkflowPhase is the overall phase derived from agent statuses.
type WorkflowPhase string

const (
	PhasePlanning       WorkflowPhase = "planning"
	PhaseDesign         WorkflowPhase = "design"
	PhaseImplementation WorkflowPhase = "implementation"
	PhaseCompleted      WorkflowPhase = "completed"
)

// phaseRank orders phases for monotonicity checks.
func phaseRank(p WorkflowPhase) int {
	switch p {
	case PhaseDesign:
		return 1
	case PhaseImplementation:
		return 2
	case PhaseCompleted:
		return 3
	default:
		return 0
	}
}

// MaxPhase returns the later of two phases in pipeline order.
func MaxPhase(a, b WorkflowPhase) WorkflowPhase {
	if phaseRank(b) > phaseRank(a) {
		return b
	}
	return a
}

// StepStatus is the lifecycle state of a workflow step.
type StepStatus string

const (
	StepPending      StepStatus = "pending"
	StepActive       StepStatus = "active"
	StepWaitingInput StepStatus = "waiting_input"
	StepCompleted    StepStatus = "completed"
	StepSkipped      StepStatus = "skipped"
	StepFailed       StepStatus = "failed"
)

// WorkflowStep is a unit of work within an agent's run.
//
// At most one step per session may be active, and a step may become active
// only once every dependency step is completed.
type WorkflowStep struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	AgentName     AgentName  `json:"agent_name"`
	Status        StepStatus `json:"status"`
	Dependencies  []string   `json:"dependencies,omitempty"`
	IsOptional    bool       `json:"is_optional,omitempty"`
	RequiresInput bool       `json:"requires_input,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
}

// Clone returns a deep copy of the step.
func (s *WorkflowStep) Clone() *WorkflowStep {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Dependencies = append([]string(nil), s.Dependencies...)
	if s.StartTime != nil {
		t := *s.StartTime
		cp.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}
	return &cp
}

// StepExecution records one step status change for diagnostics.
// The log is trimmed to a fixed retention window during reconciliation.
type StepExecution struct {
	StepID string     `json:"step_id"`
	Status StepStatus `json:"status"`
	At     time.Time  `json:"at"`
}

// Priority indicates how urgently a clarification needs an answer.
// Priority is display metadata; surfacing order stays strictly FIFO.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ClarificationRequest is a question an agent needs the human to answer
// before proceeding. Requests are immutable after creation.
type ClarificationRequest struct {
	ID        string    `json:"id"`
	AgentName AgentName `json:"agent_name"`
	Question  string    `json:"question"`
	Context   string    `json:"context,omitempty"`
	Options   []string  `json:"options,omitempty"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"created_at"`

	// Hash is the content address of the normalized question+context,
	// used for equality-class grouping in the answer-reuse engine.
	Hash string `json:"hash"`

	// Help and Examples are attached by the enrichment collaborator.
	// Enrichment never removes required fields.
	Help     string   `json:"help,omitempty"`
	Examples []string `json:"examples,omitempty"`
}

// Clone returns a deep copy of the request.
func (r *ClarificationRequest) Clone() *ClarificationRequest {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Options = append([]string(nil), r.Options...)
	cp.Examples = append([]string(nil), r.Examples...)
	return &cp
}

// NewClarificationRequest creates a request with a generated id and hash.
func NewClarificationRequest(agent AgentName, question, context string) *ClarificationRequest {
	return &ClarificationRequest{
		ID:        fmt.Sprintf("q-%s", uuid.New().String()[:8]),
		AgentName: agent,
		Question:  question,
		Context:   context,
		Priority:  PriorityMedium,
		CreatedAt: time.Now().UTC(),
		Hash:      QuestionHash(question, context),
	}
}

// QuestionHash returns the stable digest of the lower-cased, trimmed
// question and context. It defines equality classes, not semantic
// similarity.
func QuestionHash(question, context string) string {
	normalized := strings.ToLower(strings.TrimSpace(question)) + "\n" +
		strings.ToLower(strings.TrimSpace(context))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ValidationResult is the outcome of validating an answer.
type ValidationResult struct {
	IsValid    bool     `json:"is_valid"`
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues,omitempty"`
}

// ClarificationResponse is the human's (or the reuse engine's) answer to a
// clarification request.
type ClarificationResponse struct {
	ID             string            `json:"id"`
	RequestID      string            `json:"request_id"`
	Answer         string            `json:"answer"`
	SelectedOption string            `json:"selected_option,omitempty"`
	Reused         bool              `json:"reused,omitempty"`
	Validation     *ValidationResult `json:"validation,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Clone returns a deep copy of the response.
func (r *ClarificationResponse) Clone() *ClarificationResponse {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Validation != nil {
		val := *r.Validation
		val.Issues = append([]string(nil), r.Validation.Issues...)
		cp.Validation = &val
	}
	return &cp
}

// NewClarificationResponse creates a response for the given request.
func NewClarificationResponse(requestID, answer string) *ClarificationResponse {
	return &ClarificationResponse{
		ID:        fmt.Sprintf("r-%s", uuid.New().String()[:8]),
		RequestID: requestID,
		Answer:    answer,
		CreatedAt: time.Now().UTC(),
	}
}

// TransitionKind categorizes entries in the state transition log.
type TransitionKind string

const (
	TransitionAgent         TransitionKind = "agent"
	TransitionPhase         TransitionKind = "phase"
	TransitionStep          TransitionKind = "step"
	TransitionClarification TransitionKind = "clarification"
	TransitionSession       TransitionKind = "session"
)

// StateTransition is one append-only entry in the session's transition log.
type StateTransition struct {
	Kind      TransitionKind `json:"kind"`
	Subject   string         `json:"subject"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to"`
	Detail    string         `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Counters tracks per-session activity. Mirrored to Prometheus by the
// owning managers.
type Counters struct {
	QuestionsAsked   int64 `json:"questions_asked"`
	QuestionsQueued  int64 `json:"questions_queued"`
	AnswersRecorded  int64 `json:"answers_recorded"`
	AnswersReused    int64 `json:"answers_reused"`
	ReconcileRuns    int64 `json:"reconcile_runs"`
	AutoAdvances     int64 `json:"auto_advances"`
	RecoveryAttempts int64 `json:"recovery_attempts"`
}

// ConversationState is the complete per-session record.
//
// Invariant: IsWaitingForClarification == (len(Pending) > 0). All mutators
// in this module maintain it; the reconciliation engine repairs drift.
type ConversationState struct {
	SessionID     string        `json:"session_id"`
	WorkflowPhase WorkflowPhase `json:"workflow_phase"`

	// CurrentAgent is empty when no agent is active.
	CurrentAgent  AgentName `json:"current_agent,omitempty"`
	CurrentStepID string    `json:"current_step_id,omitempty"`

	AgentStates map[AgentName]AgentStatus `json:"agent_states"`

	IsWaitingForClarification bool `json:"is_waiting_for_clarification"`

	// Pending holds the currently surfaced requests in insertion order.
	Pending []*ClarificationRequest `json:"pending_clarifications"`

	// Queue holds buffered requests, FIFO, invisible to the user until a
	// slot opens up.
	Queue []*ClarificationRequest `json:"clarification_queue"`

	// History maps request id to the recorded answer.
	History map[string]*ClarificationResponse `json:"clarification_history"`

	Steps   []*WorkflowStep `json:"workflow_steps"`
	StepLog []StepExecution `json:"step_log,omitempty"`

	// Transitions is append-only; the oldest entries are trimmed past the
	// store's retention cap.
	Transitions []StateTransition `json:"state_transitions"`

	Metrics Counters `json:"performance_metrics"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationState returns the default state for a session: planning
// phase, every agent not started, nothing pending.
func NewConversationState(sessionID string) *ConversationState {
	states := make(map[AgentName]AgentStatus, len(PipelineOrder()))
	for _, a := range PipelineOrder() {
		states[a] = AgentNotStarted
	}
	now := time.Now().UTC()
	return &ConversationState{
		SessionID:     sessionID,
		WorkflowPhase: PhasePlanning,
		AgentStates:   states,
		History:       make(map[string]*ClarificationResponse),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// RecordTransition appends an entry to the transition log.
// Trimming to the retention cap happens when the store commits.
func (s *ConversationState) RecordTransition(kind TransitionKind, subject, from, to, detail string) {
	s.Transitions = append(s.Transitions, StateTransition{
		Kind:      kind,
		Subject:   subject,
		From:      from,
		To:        to,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

// FindPending returns the surfaced request with the given id, or nil.
func (s *ConversationState) FindPending(requestID string) *ClarificationRequest {
	for _, req := range s.Pending {
		if req.ID == requestID {
			return req
		}
	}
	return nil
}

// RemovePending removes the surfaced request with the given id, preserving
// the order of the rest. It reports whether a request was removed.
func (s *ConversationState) RemovePending(requestID string) bool {
	for i, req := range s.Pending {
		if req.ID == requestID {
			s.Pending = append(s.Pending[:i], s.Pending[i+1:]...)
			return true
		}
	}
	return false
}

// FindStep returns the step with the given id, or nil.
func (s *ConversationState) FindStep(stepID string) *WorkflowStep {
	for _, step := range s.Steps {
		if step.ID == stepID {
			return step
		}
	}
	return nil
}

// ActiveSteps returns every step currently marked active.
func (s *ConversationState) ActiveSteps() []*WorkflowStep {
	var active []*WorkflowStep
	for _, step := range s.Steps {
		if step.Status == StepActive {
			active = append(active, step)
		}
	}
	return active
}

// Clone returns a deep copy of the state. Store reads hand out clones so
// callers can never mutate shared state outside an Update.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	c := *s

	c.AgentStates = make(map[AgentName]AgentStatus, len(s.AgentStates))
	for k, v := range s.AgentStates {
		c.AgentStates[k] = v
	}

	c.Pending = cloneRequests(s.Pending)
	c.Queue = cloneRequests(s.Queue)

	c.History = make(map[string]*ClarificationResponse, len(s.History))
	for k, v := range s.History {
		c.History[k] = v.Clone()
	}

	c.Steps = make([]*WorkflowStep, len(s.Steps))
	for i, step := range s.Steps {
		c.Steps[i] = step.Clone()
	}

	c.StepLog = append([]StepExecution(nil), s.StepLog...)
	c.Transitions = append([]StateTransition(nil), s.Transitions...)
	return &c
}

func cloneRequests(reqs []*ClarificationRequest) []*ClarificationRequest {
	if reqs == nil {
		return nil
	}
	out := make([]*ClarificationRequest, len(reqs))
	for i, req := range reqs {
		out[i] = req.Clone()
	}
	return out
}
