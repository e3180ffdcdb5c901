package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/blissfulldev/hitld/internal/session"

// ErrStoreClosed is returned by every operation after Close.
var ErrStoreClosed = errors.New("session store is closed")

// TransitionPublisher receives committed state transitions. Implementations
// must not block; publishing happens outside the per-session lock.
type TransitionPublisher interface {
	PublishTransition(ctx context.Context, sessionID string, tr StateTransition) error
}

// Store provides keyed, serialized access to conversation state.
//
// Update is the only mutation path: the closure runs with the session's
// lock held, so read-modify-write sequences for one session never
// interleave. Get hands out deep copies.
type Store interface {
	// Get returns a snapshot of the session state, lazily creating the
	// default state on first access.
	Get(ctx context.Context, sessionID string) (*ConversationState, error)

	// Update applies fn to the session state under the per-session lock.
	// If fn returns an error the mutation is discarded.
	Update(ctx context.Context, sessionID string, fn func(*ConversationState) error) error

	// Clear destroys the session state. Clearing an unknown session is a
	// no-op.
	Clear(ctx context.Context, sessionID string) error

	// ClearAll destroys every session. Intended for operational tooling.
	ClearAll(ctx context.Context) error

	// Sessions lists known session ids in lexical order.
	Sessions(ctx context.Context) ([]string, error)

	// Close releases the store. Further operations fail with ErrStoreClosed.
	Close() error
}

// StoreConfig configures the in-memory store.
type StoreConfig struct {
	// TransitionRetention caps the per-session transition log. The oldest
	// entries are trimmed on every commit. Hard cap, not best-effort.
	TransitionRetention int
}

// DefaultStoreConfig returns sensible defaults.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		TransitionRetention: 100,
	}
}

type sessionEntry struct {
	mu    sync.Mutex
	state *ConversationState
}

// memStore is the in-memory Store implementation. The outer lock guards the
// session map; each entry carries its own mutex so sessions serialize
// independently.
type memStore struct {
	config    *StoreConfig
	logger    *zap.Logger
	publisher TransitionPublisher

	meter          metric.Meter
	createdCounter metric.Int64Counter
	updateCounter  metric.Int64Counter

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	closed   bool
}

// NewStore creates an in-memory session store. The publisher may be nil to
// disable transition publishing.
func NewStore(cfg *StoreConfig, publisher TransitionPublisher, logger *zap.Logger) Store {
	if cfg == nil {
		cfg = DefaultStoreConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &memStore{
		config:    cfg,
		logger:    logger,
		publisher: publisher,
		meter:     otel.Meter(instrumentationName),
		sessions:  make(map[string]*sessionEntry),
	}
	s.initMetrics()
	return s
}

func (s *memStore) initMetrics() {
	var err error

	s.createdCounter, err = s.meter.Int64Counter(
		"hitld.session.created_total",
		metric.WithDescription("Total number of sessions lazily created"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		s.logger.Warn("failed to create session counter", zap.Error(err))
	}

	s.updateCounter, err = s.meter.Int64Counter(
		"hitld.session.updates_total",
		metric.WithDescription("Total number of session state updates"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		s.logger.Warn("failed to create update counter", zap.Error(err))
	}
}

// entry returns the session entry, creating the default state on first
// access.
func (s *memStore) entry(ctx context.Context, sessionID string) (*sessionEntry, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if e, ok := s.sessions[sessionID]; ok {
		return e, nil
	}

	e = &sessionEntry{state: NewConversationState(sessionID)}
	s.sessions[sessionID] = e

	if s.createdCounter != nil {
		s.createdCounter.Add(ctx, 1)
	}
	s.logger.Debug("created session state", zap.String("session_id", sessionID))
	return e, nil
}

func (s *memStore) Get(ctx context.Context, sessionID string) (*ConversationState, error) {
	e, err := s.entry(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone(), nil
}

func (s *memStore) Update(ctx context.Context, sessionID string, fn func(*ConversationState) error) error {
	e, err := s.entry(ctx, sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	before := len(e.state.Transitions)
	if err := fn(e.state); err != nil {
		e.mu.Unlock()
		return err
	}
	e.state.UpdatedAt = time.Now().UTC()
	appended := len(e.state.Transitions) - before
	s.trimTransitions(e.state)

	// Collect transitions appended by fn; publish after releasing the
	// session lock so a slow publisher never blocks other writers. Trimming
	// only drops old entries, so new ones stay at the tail.
	var committed []StateTransition
	if s.publisher != nil && appended > 0 {
		if appended > len(e.state.Transitions) {
			appended = len(e.state.Transitions)
		}
		committed = append(committed, e.state.Transitions[len(e.state.Transitions)-appended:]...)
	}
	e.mu.Unlock()

	if s.updateCounter != nil {
		s.updateCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("session_id", sessionID),
		))
	}

	for _, tr := range committed {
		if err := s.publisher.PublishTransition(ctx, sessionID, tr); err != nil {
			s.logger.Warn("failed to publish transition",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *memStore) trimTransitions(state *ConversationState) {
	limit := s.config.TransitionRetention
	if limit <= 0 || len(state.Transitions) <= limit {
		return
	}
	state.Transitions = append([]StateTransition(nil), state.Transitions[len(state.Transitions)-limit:]...)
}

func (s *memStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.sessions[sessionID]; !ok {
		return nil
	}
	delete(s.sessions, sessionID)
	s.logger.Info("cleared session state", zap.String("session_id", sessionID))
	return nil
}

func (s *memStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	n := len(s.sessions)
	s.sessions = make(map[string]*sessionEntry)
	s.logger.Info("cleared all session state", zap.Int("sessions", n))
	return nil
}

func (s *memStore) Sessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.sessions = nil
	return nil
}
