package assist

import (
	"context"

	"github.com/blissfulldev/hitld/internal/session"
)

// Enricher adds help text and examples to a clarification request before it
// is surfaced. Enrichment returns a copy; it never removes required fields
// and never mutates the input.
type Enricher interface {
	Enrich(ctx context.Context, req *session.ClarificationRequest) (*session.ClarificationRequest, error)
}

// Validator judges a free-text answer against its question.
type Validator interface {
	Validate(ctx context.Context, req *session.ClarificationRequest, resp *session.ClarificationResponse) (session.ValidationResult, error)
}

// Guide produces a human-readable summary of where the session stands.
type Guide interface {
	Summarize(ctx context.Context, state *session.ConversationState) (string, error)
}
