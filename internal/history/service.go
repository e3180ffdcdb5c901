package history

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

	"github.com/blissfulldev/hitld/internal/session"
)

const instrumentationName = "github.com/blissfulldev/hitld/internal/history"

// ErrQuestionNotFound is returned for operations on unknown question ids.
var ErrQuestionNotFound = errors.New("question not found in history")

// Service provides question history and answer-reuse operations.
type Service interface {
	// Record registers a question. Recording the same id twice is a no-op.
	Record(ctx context.Context, req *session.ClarificationRequest) error

	// RecordAnswer attaches an answer to a recorded question.
	RecordAnswer(ctx context.Context, questionID string, resp *session.ClarificationResponse) error

	// ShouldReuseAnswer scans entries sharing the hash and returns the
	// best valid answered entry at or above the confidence threshold.
	// A hit increments the entry's reuse count.
	ShouldReuseAnswer(ctx context.Context, hash string, threshold float64) (*QuestionMatch, bool)

	// FindReusable applies the configured matcher (semantic when present,
	// exact-hash baseline otherwise) to a new question.
	FindReusable(ctx context.Context, req *session.ClarificationRequest, threshold float64) (*QuestionMatch, bool, error)

	// SetDependencies declares which prior questions must be answered
	// before this one may be surfaced out of order.
	SetDependencies(ctx context.Context, questionID string, deps []string) error

	// AreDependenciesSatisfied reports whether every declared dependency
	// has a valid recorded answer.
	AreDependenciesSatisfied(ctx context.Context, questionID string) (bool, error)

	// ReadyQuestions returns unanswered questions whose dependencies are
	// satisfied. This is the admission contract for out-of-order
	// surfacing.
	ReadyQuestions(ctx context.Context) ([]*Entry, error)

	// Get returns the entry for a question id.
	Get(ctx context.Context, questionID string) (*Entry, error)

	// Close releases the service.
	Close() error
}

// Config configures the history service.
type Config struct {
	// ReuseThreshold is the default minimum confidence/similarity for
	// answer reuse.
	ReuseThreshold float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReuseThreshold: 0.8,
	}
}

// service implements the Service interface.
type service struct {
	config  *Config
	matcher Matcher
	logger  *zap.Logger

	meter       metric.Meter
	reuseHits   metric.Int64Counter
	reuseMisses metric.Int64Counter

	mu      sync.RWMutex
	entries map[string]*Entry
	byHash  map[string][]string
	closed  bool
}

// NewService creates a history service. The matcher may be nil, in which
// case reuse decisions use the exact-hash baseline only.
func NewService(cfg *Config, matcher Matcher, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ReuseThreshold < 0 || cfg.ReuseThreshold > 1 {
		return nil, fmt.Errorf("reuse threshold must be in [0,1], got %v", cfg.ReuseThreshold)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config:  cfg,
		matcher: matcher,
		logger:  logger,
		meter:   otel.Meter(instrumentationName),
		entries: make(map[string]*Entry),
		byHash:  make(map[string][]string),
	}
	s.initMetrics()
	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.reuseHits, err = s.meter.Int64Counter(
		"hitld.history.reuse_hits_total",
		metric.WithDescription("Total number of answer reuse hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		s.logger.Warn("failed to create reuse hit counter", zap.Error(err))
	}

	s.reuseMisses, err = s.meter.Int64Counter(
		"hitld.history.reuse_misses_total",
		metric.WithDescription("Total number of answer reuse misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		s.logger.Warn("failed to create reuse miss counter", zap.Error(err))
	}
}

func (s *service) Record(ctx context.Context, req *session.ClarificationRequest) error {
	if req == nil || req.ID == "" {
		return errors.New("request with id is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("history service is closed")
	}
	if _, ok := s.entries[req.ID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.entries[req.ID] = &Entry{Request: req.Clone()}
	s.byHash[req.Hash] = append(s.byHash[req.Hash], req.ID)
	s.mu.Unlock()

	if s.matcher != nil {
		if err := s.matcher.Index(ctx, req.ID, req.Question, req.Context); err != nil {
			// Matching degrades to the hash baseline; recording never fails
			// on matcher errors.
			s.logger.Warn("failed to index question for matching",
				zap.String("question_id", req.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *service) RecordAnswer(ctx context.Context, questionID string, resp *session.ClarificationResponse) error {
	if resp == nil {
		return errors.New("response is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("history service is closed")
	}
	entry, ok := s.entries[questionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrQuestionNotFound, questionID)
	}

	now := time.Now().UTC()
	entry.Answer = resp.Clone()
	entry.AnsweredAt = &now
	return nil
}

func (s *service) ShouldReuseAnswer(ctx context.Context, hash string, threshold float64) (*QuestionMatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}

	var best *Entry
	for _, id := range s.byHash[hash] {
		entry := s.entries[id]
		if entry == nil || !entry.AnswerValid() {
			continue
		}
		if entry.Confidence() < threshold {
			continue
		}
		if best == nil || entry.Confidence() > best.Confidence() {
			best = entry
		}
	}

	if best == nil {
		if s.reuseMisses != nil {
			s.reuseMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", "exact")))
		}
		return nil, false
	}

	best.ReusedCount++
	if s.reuseHits != nil {
		s.reuseHits.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", "exact")))
	}
	return &QuestionMatch{
		QuestionID:     best.Request.ID,
		Confidence:     best.Confidence(),
		PreviousAnswer: best.Answer.Answer,
	}, true
}

func (s *service) FindReusable(ctx context.Context, req *session.ClarificationRequest, threshold float64) (*QuestionMatch, bool, error) {
	if req == nil {
		return nil, false, errors.New("request is required")
	}
	if threshold <= 0 {
		threshold = s.config.ReuseThreshold
	}

	if s.matcher == nil {
		match, ok := s.ShouldReuseAnswer(ctx, req.Hash, threshold)
		return match, ok, nil
	}

	candidate, err := s.matcher.Match(ctx, req.Question, req.Context)
	if err != nil {
		// Deterministic fallback: the exact-hash baseline.
		s.logger.Warn("matcher failed, falling back to exact hash", zap.Error(err))
		match, ok := s.ShouldReuseAnswer(ctx, req.Hash, threshold)
		return match, ok, nil
	}
	if candidate == nil || candidate.Similarity < threshold {
		if s.reuseMisses != nil {
			s.reuseMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", "semantic")))
		}
		return nil, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[candidate.QuestionID]
	if !ok || !entry.AnswerValid() {
		return nil, false, nil
	}

	entry.ReusedCount++
	if s.reuseHits != nil {
		s.reuseHits.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", "semantic")))
	}
	return &QuestionMatch{
		QuestionID:     entry.Request.ID,
		Confidence:     candidate.Similarity,
		PreviousAnswer: entry.Answer.Answer,
	}, true, nil
}

func (s *service) SetDependencies(ctx context.Context, questionID string, deps []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[questionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrQuestionNotFound, questionID)
	}
	entry.Dependencies = append([]string(nil), deps...)
	return nil
}

func (s *service) AreDependenciesSatisfied(ctx context.Context, questionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[questionID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrQuestionNotFound, questionID)
	}
	return s.depsSatisfiedLocked(entry), nil
}

// depsSatisfiedLocked reports whether every declared dependency has a valid
// recorded answer. Unknown dependencies count as unsatisfied.
func (s *service) depsSatisfiedLocked(entry *Entry) bool {
	for _, dep := range entry.Dependencies {
		depEntry, ok := s.entries[dep]
		if !ok || !depEntry.AnswerValid() {
			return false
		}
	}
	return true
}

func (s *service) ReadyQuestions(ctx context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.New("history service is closed")
	}

	var ready []*Entry
	for _, entry := range s.entries {
		if entry.Answered() {
			continue
		}
		if s.depsSatisfiedLocked(entry) {
			ready = append(ready, entry.Clone())
		}
	}
	return ready, nil
}

func (s *service) Get(ctx context.Context, questionID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[questionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQuestionNotFound, questionID)
	}
	return entry.Clone(), nil
}

func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return nil
}
