package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/blissfulldev/hitld/internal/session"
)

// DefaultSubjectPrefix is the root of the transition subject hierarchy.
// Transitions for a session are published to
// {prefix}.{session_id}.transitions.
const DefaultSubjectPrefix = "hitl.session"

// NopPublisher drops every transition. Used when no broker is configured.
type NopPublisher struct{}

// PublishTransition implements session.TransitionPublisher.
func (NopPublisher) PublishTransition(context.Context, string, session.StateTransition) error {
	return nil
}

// Close is a no-op.
func (NopPublisher) Close() error { return nil }

// envelope is the wire form of a published transition.
type envelope struct {
	SessionID  string                  `json:"session_id"`
	Transition session.StateTransition `json:"transition"`
}

// NATSPublisher publishes transitions as JSON over NATS.
type NATSPublisher struct {
	nc      *nats.Conn
	prefix  string
	logger  *zap.Logger
	ownConn bool
}

// NewNATSPublisher wraps an existing connection. The caller keeps
// ownership of the connection; Close does not drain it.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}, nil
}

// Connect dials the broker and returns a publisher that owns the
// connection; Close drains it.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("hitld-events"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	p, err := NewNATSPublisher(nc, prefix, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.ownConn = true
	return p, nil
}

// PublishTransition implements session.TransitionPublisher.
func (p *NATSPublisher) PublishTransition(_ context.Context, sessionID string, tr session.StateTransition) error {
	data, err := json.Marshal(envelope{SessionID: sessionID, Transition: tr})
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.transitions", p.prefix, sessionID)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish transition: %w", err)
	}

	p.logger.Debug("published transition",
		zap.String("subject", subject),
		zap.String("kind", string(tr.Kind)),
	)
	return nil
}

// Close drains the connection when this publisher owns it.
func (p *NATSPublisher) Close() error {
	if !p.ownConn {
		return nil
	}
	return p.nc.Drain()
}
