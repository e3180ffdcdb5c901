package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/blissfulldev/hitld/internal/session"
)

const instrumentationName = "github.com/blissfulldev/hitld/internal/recovery"

// Reconciler runs state reconciliation for a session. Satisfied by the
// reconcile engine through a thin adapter.
type Reconciler interface {
	Reconcile(ctx context.Context, sessionID string) error
}

// Executor applies one recovery option to a session.
type Executor func(ctx context.Context, sessionID string) error

// Config configures the recovery service.
type Config struct {
	// MaxLogEntries caps the in-memory error log. Oldest entries are
	// evicted past the cap.
	MaxLogEntries int

	// AutoRecoveryInterval and AutoRecoveryBurst rate-limit automatic
	// recovery so a crash loop cannot spam corrective actions.
	AutoRecoveryInterval time.Duration
	AutoRecoveryBurst    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxLogEntries:        1000,
		AutoRecoveryInterval: 10 * time.Second,
		AutoRecoveryBurst:    3,
	}
}

// Service is the error-handling front door: classify, log, attempt
// automatic recovery, and report what the user must do.
type Service struct {
	config     *Config
	classifier *Classifier
	store      session.Store
	logger     *zap.Logger
	limiter    *rate.Limiter

	meter          metric.Meter
	errorCounter   metric.Int64Counter
	attemptCounter metric.Int64Counter

	mu        sync.Mutex
	log       []*ClassifiedError
	byType    map[ErrorType]int64
	executors map[string]Executor
}

// NewService creates a recovery service. The reconciler may be nil, which
// leaves the run_reconciliation option without an executor.
func NewService(cfg *Config, store session.Store, classifier *Classifier, reconciler Reconciler, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxLogEntries <= 0 {
		return nil, fmt.Errorf("max log entries must be positive, got %d", cfg.MaxLogEntries)
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if classifier == nil {
		classifier = NewClassifier(nil, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	interval := cfg.AutoRecoveryInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	burst := cfg.AutoRecoveryBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Service{
		config:     cfg,
		classifier: classifier,
		store:      store,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Every(interval), burst),
		meter:      otel.Meter(instrumentationName),
		byType:     make(map[ErrorType]int64),
		executors:  make(map[string]Executor),
	}
	s.initMetrics()

	s.executors[OptionClearCurrentAgent] = s.clearCurrentAgent
	if reconciler != nil {
		s.executors[OptionRunReconciliation] = reconciler.Reconcile
	}
	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.errorCounter, err = s.meter.Int64Counter(
		"hitld.recovery.errors_total",
		metric.WithDescription("Errors handled, by type"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		s.logger.Warn("failed to create error counter", zap.Error(err))
	}

	s.attemptCounter, err = s.meter.Int64Counter(
		"hitld.recovery.attempts_total",
		metric.WithDescription("Automatic recovery attempts, by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		s.logger.Warn("failed to create attempt counter", zap.Error(err))
	}
}

// RegisterExecutor attaches an executor for a recovery option id. Callers
// use this to make options like retry_operation executable in their
// context.
func (s *Service) RegisterExecutor(optionID string, exec Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[optionID] = exec
}

// Handle classifies an error, logs it, attempts automatic recovery where
// allowed, and returns the user-facing outcome. Handle itself never fails:
// every input yields a HandledError.
func (s *Service) Handle(ctx context.Context, sessionID string, cause error) *HandledError {
	classified := s.classifier.Classify(ctx, sessionID, cause)
	s.record(ctx, classified)

	s.logger.Error("handling classified error",
		zap.String("session_id", sessionID),
		zap.String("error_id", classified.ID),
		zap.String("type", string(classified.Type)),
		zap.String("severity", string(classified.Severity)),
		zap.String("message", classified.Message),
	)

	handled := &HandledError{
		ErrorID:  classified.ID,
		Type:     classified.Type,
		Severity: classified.Severity,
		Message:  classified.Message,
	}

	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		s.logger.Warn("cannot load session state for recovery", zap.Error(err))
		state = nil
	}

	selected := SelectOptions(classified, state)
	for _, opt := range selected {
		handled.NextSteps = append(handled.NextSteps, opt.Description)
	}
	if len(handled.NextSteps) == 0 {
		// Every type's catalog carries an unconditional option, so this
		// only happens when state loading failed.
		handled.NextSteps = []string{"run state reconciliation and retry"}
	}

	if classified.Severity != SeverityCritical {
		s.attemptAutoRecovery(ctx, sessionID, selected, handled)
	}

	handled.RequiresUserAction = classified.Severity == SeverityCritical || !handled.Recovered
	return handled
}

// attemptAutoRecovery runs the first low-risk, auto-executable option with
// a registered executor. One attempt per error, rate-limited globally.
func (s *Service) attemptAutoRecovery(ctx context.Context, sessionID string, options []RecoveryOption, handled *HandledError) {
	for _, opt := range options {
		if !opt.AutoExecutable || opt.RiskLevel != RiskLow {
			continue
		}
		s.mu.Lock()
		exec := s.executors[opt.ID]
		s.mu.Unlock()
		if exec == nil {
			continue
		}

		if !s.limiter.Allow() {
			s.logger.Warn("auto-recovery rate limit reached",
				zap.String("session_id", sessionID),
				zap.String("option", opt.ID),
			)
			s.countAttempt(ctx, "rate_limited")
			return
		}

		err := exec(ctx, sessionID)
		s.bumpSessionCounter(ctx, sessionID)
		if err != nil {
			s.logger.Warn("auto-recovery attempt failed",
				zap.String("session_id", sessionID),
				zap.String("option", opt.ID),
				zap.Error(err),
			)
			s.countAttempt(ctx, "failed")
			return
		}

		s.logger.Info("auto-recovery succeeded",
			zap.String("session_id", sessionID),
			zap.String("option", opt.ID),
		)
		s.countAttempt(ctx, "succeeded")
		handled.Recovered = true
		handled.RecoveryApplied = opt.ID
		return
	}
}

func (s *Service) countAttempt(ctx context.Context, outcome string) {
	if s.attemptCounter != nil {
		s.attemptCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (s *Service) bumpSessionCounter(ctx context.Context, sessionID string) {
	err := s.store.Update(ctx, sessionID, func(state *session.ConversationState) error {
		state.Metrics.RecoveryAttempts++
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to bump recovery counter", zap.Error(err))
	}
}

// record appends to the bounded error log and the per-type counters.
func (s *Service) record(ctx context.Context, classified *ClassifiedError) {
	s.mu.Lock()
	s.log = append(s.log, classified)
	if len(s.log) > s.config.MaxLogEntries {
		s.log = s.log[len(s.log)-s.config.MaxLogEntries:]
	}
	s.byType[classified.Type]++
	s.mu.Unlock()

	if s.errorCounter != nil {
		s.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", string(classified.Type)),
			attribute.String("severity", string(classified.Severity)),
		))
	}
}

// Errors returns a copy of the bounded error log, oldest first.
func (s *Service) Errors() []*ClassifiedError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ClassifiedError(nil), s.log...)
}

// CountByType returns the per-type error counters.
func (s *Service) CountByType() map[ErrorType]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ErrorType]int64, len(s.byType))
	for k, v := range s.byType {
		out[k] = v
	}
	return out
}

// clearCurrentAgent is the built-in executor for the clear_current_agent
// option.
func (s *Service) clearCurrentAgent(ctx context.Context, sessionID string) error {
	return s.store.Update(ctx, sessionID, func(state *session.ConversationState) error {
		agent := state.CurrentAgent
		if agent == "" {
			return nil
		}
		if state.AgentStates[agent] == session.AgentRunning {
			state.AgentStates[agent] = session.AgentNotStarted
			state.RecordTransition(session.TransitionAgent, string(agent), string(session.AgentRunning), string(session.AgentNotStarted), "recovery cleared current agent")
		}
		state.CurrentAgent = ""
		state.CurrentStepID = ""
		return nil
	})
}
