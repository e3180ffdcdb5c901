package clarification

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/blissfulldev/hitld/internal/assist"
	"github.com/blissfulldev/hitld/internal/history"
	"github.com/blissfulldev/hitld/internal/session"
)

const instrumentationName = "github.com/blissfulldev/hitld/internal/clarification"

// ErrNoPendingRequest is returned when a response names a request that is
// not currently surfaced.
var ErrNoPendingRequest = errors.New("no pending clarification with that request id")

// ResumePolicy decides what happens when the last outstanding clarification
// is answered.
type ResumePolicy string

const (
	// ResumePaused clears the current agent and step so the orchestrator
	// re-evaluates from the next runnable agent; agent statuses are kept,
	// so the paused agent resumes where it left off.
	ResumePaused ResumePolicy = "resume_agent"

	// RestartPipeline additionally resets every agent to NOT_STARTED,
	// forcing a clean re-run of the pipeline from the top.
	RestartPipeline ResumePolicy = "restart_pipeline"
)

// Config configures the clarification manager.
type Config struct {
	// ReuseThreshold is the minimum confidence/similarity for answering a
	// new question from history.
	ReuseThreshold float64

	// ResumePolicy selects the resume behavior after the last answer.
	ResumePolicy ResumePolicy
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReuseThreshold: 0.8,
		ResumePolicy:   ResumePaused,
	}
}

// AddResult reports what happened to a registered request.
type AddResult struct {
	// Request is the enriched request as stored.
	Request *session.ClarificationRequest

	// Reused is true when the question was answered from history without
	// surfacing; Response then holds the synthesized answer.
	Reused   bool
	Response *session.ClarificationResponse

	// Surfaced and Queued report where a non-reused request landed.
	Surfaced bool
	Queued   bool
}

// Manager provides the clarification request/response lifecycle.
type Manager interface {
	// AddRequest registers a question from an agent. Every request reaches
	// history plus either the surfaced set, the queue, or a reused answer.
	AddRequest(ctx context.Context, sessionID string, req *session.ClarificationRequest) (*AddResult, error)

	// AddResponse records the user's answer to a surfaced request and
	// surfaces the next queued question, if any.
	AddResponse(ctx context.Context, sessionID string, resp *session.ClarificationResponse) error

	// IsWaiting reports whether any clarification is surfaced.
	IsWaiting(ctx context.Context, sessionID string) (bool, error)

	// Pending returns the surfaced requests in display order.
	Pending(ctx context.Context, sessionID string) ([]*session.ClarificationRequest, error)

	// Responses returns all recorded responses in answer order.
	Responses(ctx context.Context, sessionID string) ([]*session.ClarificationResponse, error)
}

// manager implements Manager.
type manager struct {
	config    *Config
	store     session.Store
	history   history.Service
	enricher  assist.Enricher
	validator assist.Validator
	logger    *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	requestCounter  metric.Int64Counter
	responseCounter metric.Int64Counter
	reuseCounter    metric.Int64Counter

	fallbackEnricher  assist.FallbackEnricher
	fallbackValidator assist.FallbackValidator
}

// NewManager creates a clarification manager. Enricher and validator may be
// nil; the deterministic fallbacks are used in that case.
func NewManager(cfg *Config, store session.Store, hist history.Service, enricher assist.Enricher, validator assist.Validator, logger *zap.Logger) (Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if hist == nil {
		return nil, errors.New("history service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.ResumePolicy {
	case ResumePaused, RestartPipeline:
	case "":
		cfg.ResumePolicy = ResumePaused
	default:
		return nil, fmt.Errorf("unknown resume policy: %s", cfg.ResumePolicy)
	}

	m := &manager{
		config:    cfg,
		store:     store,
		history:   hist,
		enricher:  enricher,
		validator: validator,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}
	m.initMetrics()
	return m, nil
}

func (m *manager) initMetrics() {
	var err error

	m.requestCounter, err = m.meter.Int64Counter(
		"hitld.clarification.requests_total",
		metric.WithDescription("Clarification requests registered"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create request counter", zap.Error(err))
	}

	m.responseCounter, err = m.meter.Int64Counter(
		"hitld.clarification.responses_total",
		metric.WithDescription("Clarification responses recorded"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		m.logger.Warn("failed to create response counter", zap.Error(err))
	}

	m.reuseCounter, err = m.meter.Int64Counter(
		"hitld.clarification.reused_total",
		metric.WithDescription("Questions answered from history"),
		metric.WithUnit("{answer}"),
	)
	if err != nil {
		m.logger.Warn("failed to create reuse counter", zap.Error(err))
	}
}

func (m *manager) AddRequest(ctx context.Context, sessionID string, req *session.ClarificationRequest) (*AddResult, error) {
	ctx, span := m.tracer.Start(ctx, "clarification.add_request")
	defer span.End()

	if req == nil || req.ID == "" {
		return nil, errors.New("request with id is required")
	}
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("request_id", req.ID),
		attribute.String("agent", string(req.AgentName)),
	)

	// Enrichment runs outside the session lock: it may call a model.
	enriched := m.enrich(ctx, req)

	// Answer reuse: a confident prior answer resolves the question without
	// the user ever seeing it.
	match, reusable, err := m.history.FindReusable(ctx, enriched, m.config.ReuseThreshold)
	if err != nil {
		return nil, fmt.Errorf("reuse lookup: %w", err)
	}
	if reusable {
		return m.reuseAnswer(ctx, sessionID, enriched, match)
	}

	result := &AddResult{Request: enriched}
	err = m.store.Update(ctx, sessionID, func(state *session.ConversationState) error {
		if !state.IsWaitingForClarification {
			state.Pending = append(state.Pending, enriched)
			state.IsWaitingForClarification = true
			result.Surfaced = true
			state.RecordTransition(session.TransitionClarification, enriched.ID, "", "surfaced", enriched.Question)
		} else {
			state.Queue = append(state.Queue, enriched)
			result.Queued = true
			state.Metrics.QuestionsQueued++
			state.RecordTransition(session.TransitionClarification, enriched.ID, "", "queued", enriched.Question)
		}
		state.Metrics.QuestionsAsked++

		if enriched.AgentName.Valid() {
			prev := state.AgentStates[enriched.AgentName]
			if prev != session.AgentWaiting {
				state.AgentStates[enriched.AgentName] = session.AgentWaiting
				state.RecordTransition(session.TransitionAgent, string(enriched.AgentName), string(prev), string(session.AgentWaiting), "asked clarification")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := m.history.Record(ctx, enriched); err != nil {
		m.logger.Warn("failed to record question in history",
			zap.String("request_id", enriched.ID),
			zap.Error(err),
		)
	}

	if m.requestCounter != nil {
		m.requestCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("queued", result.Queued),
		))
	}
	m.logger.Info("registered clarification request",
		zap.String("session_id", sessionID),
		zap.String("request_id", enriched.ID),
		zap.Bool("surfaced", result.Surfaced),
		zap.Bool("queued", result.Queued),
	)
	return result, nil
}

// reuseAnswer resolves a request from history without surfacing it.
func (m *manager) reuseAnswer(ctx context.Context, sessionID string, req *session.ClarificationRequest, match *history.QuestionMatch) (*AddResult, error) {
	resp := session.NewClarificationResponse(req.ID, match.PreviousAnswer)
	resp.Reused = true
	resp.Validation = &session.ValidationResult{
		IsValid:    true,
		Confidence: match.Confidence,
	}

	err := m.store.Update(ctx, sessionID, func(state *session.ConversationState) error {
		state.History[req.ID] = resp
		state.Metrics.QuestionsAsked++
		state.Metrics.AnswersReused++
		state.RecordTransition(session.TransitionClarification, req.ID, "", "reused",
			fmt.Sprintf("answered from %s", match.QuestionID))
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The reused question still lands in history so it can seed future
	// matches itself.
	if err := m.history.Record(ctx, req); err == nil {
		if err := m.history.RecordAnswer(ctx, req.ID, resp); err != nil {
			m.logger.Warn("failed to record reused answer", zap.Error(err))
		}
	}

	if m.reuseCounter != nil {
		m.reuseCounter.Add(ctx, 1)
	}
	m.logger.Info("reused prior answer",
		zap.String("session_id", sessionID),
		zap.String("request_id", req.ID),
		zap.String("source_question", match.QuestionID),
		zap.Float64("confidence", match.Confidence),
	)
	return &AddResult{Request: req, Reused: true, Response: resp}, nil
}

func (m *manager) AddResponse(ctx context.Context, sessionID string, resp *session.ClarificationResponse) error {
	ctx, span := m.tracer.Start(ctx, "clarification.add_response")
	defer span.End()

	if resp == nil || resp.RequestID == "" {
		return errors.New("response with request id is required")
	}
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("request_id", resp.RequestID),
	)

	// Find the request first so validation can see the question. Validation
	// runs outside the session lock.
	snapshot, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	req := snapshot.FindPending(resp.RequestID)
	if req == nil {
		return fmt.Errorf("%w: %s", ErrNoPendingRequest, resp.RequestID)
	}

	validation := m.validate(ctx, req, resp)
	resp.Validation = &validation

	err = m.store.Update(ctx, sessionID, func(state *session.ConversationState) error {
		if !state.RemovePending(resp.RequestID) {
			return fmt.Errorf("%w: %s", ErrNoPendingRequest, resp.RequestID)
		}
		state.History[resp.RequestID] = resp
		state.Metrics.AnswersRecorded++
		state.RecordTransition(session.TransitionClarification, resp.RequestID, "surfaced", "answered", "")

		if len(state.Pending) > 0 {
			return nil
		}

		// Surfaced set drained: promote the queue head, or finish the
		// clarification round.
		if len(state.Queue) > 0 {
			next := state.Queue[0]
			state.Queue = state.Queue[1:]
			state.Pending = append(state.Pending, next)
			state.RecordTransition(session.TransitionClarification, next.ID, "queued", "surfaced", next.Question)
			return nil
		}

		state.IsWaitingForClarification = false
		state.CurrentAgent = ""
		state.CurrentStepID = ""
		state.RecordTransition(session.TransitionSession, sessionID, "waiting", "resumed", string(m.config.ResumePolicy))

		if m.config.ResumePolicy == RestartPipeline {
			for _, agent := range session.PipelineOrder() {
				prev := state.AgentStates[agent]
				if prev != session.AgentNotStarted {
					state.AgentStates[agent] = session.AgentNotStarted
					state.RecordTransition(session.TransitionAgent, string(agent), string(prev), string(session.AgentNotStarted), "pipeline restart")
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := m.history.RecordAnswer(ctx, resp.RequestID, resp); err != nil {
		m.logger.Warn("failed to record answer in history",
			zap.String("request_id", resp.RequestID),
			zap.Error(err),
		)
	}

	if m.responseCounter != nil {
		m.responseCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("valid", validation.IsValid),
		))
	}
	m.logger.Info("recorded clarification response",
		zap.String("session_id", sessionID),
		zap.String("request_id", resp.RequestID),
		zap.Bool("valid", validation.IsValid),
	)
	return nil
}

func (m *manager) IsWaiting(ctx context.Context, sessionID string) (bool, error) {
	state, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return state.IsWaitingForClarification, nil
}

func (m *manager) Pending(ctx context.Context, sessionID string) ([]*session.ClarificationRequest, error) {
	state, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return state.Pending, nil
}

func (m *manager) Responses(ctx context.Context, sessionID string) ([]*session.ClarificationResponse, error) {
	state, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	responses := make([]*session.ClarificationResponse, 0, len(state.History))
	for _, resp := range state.History {
		responses = append(responses, resp)
	}
	sort.Slice(responses, func(i, j int) bool {
		return responses[i].CreatedAt.Before(responses[j].CreatedAt)
	})
	return responses, nil
}

// enrich applies the configured enricher, falling back to the deterministic
// one on error or absence.
func (m *manager) enrich(ctx context.Context, req *session.ClarificationRequest) *session.ClarificationRequest {
	enricher := m.enricher
	if enricher == nil {
		enricher = m.fallbackEnricher
	}
	enriched, err := enricher.Enrich(ctx, req)
	if err != nil || enriched == nil {
		m.logger.Warn("enrichment failed, using request as-is", zap.Error(err))
		enriched, _ = m.fallbackEnricher.Enrich(ctx, req)
	}
	return enriched
}

// validate applies the configured validator, falling back to the
// deterministic one on error or absence.
func (m *manager) validate(ctx context.Context, req *session.ClarificationRequest, resp *session.ClarificationResponse) session.ValidationResult {
	validator := m.validator
	if validator == nil {
		validator = m.fallbackValidator
	}
	result, err := validator.Validate(ctx, req, resp)
	if err != nil {
		m.logger.Warn("validation failed, using fallback", zap.Error(err))
		result, _ = m.fallbackValidator.Validate(ctx, req, resp)
	}
	return result
}
