package assist

import (
	"context"
	"fmt"
	"strings"

	"github.com/blissfulldev/hitld/internal/session"
)

// FallbackConfidence is the confidence recorded for answers accepted by the
// deterministic validator. High enough that a fallback-validated answer can
// still be reused at the default threshold.
const FallbackConfidence = 0.85

// FallbackEnricher returns the request unchanged apart from a generic help
// line when options are present. Deterministic and side-effect free.
type FallbackEnricher struct{}

// Enrich implements Enricher.
func (FallbackEnricher) Enrich(_ context.Context, req *session.ClarificationRequest) (*session.ClarificationRequest, error) {
	enriched := *req
	if enriched.Help == "" && len(enriched.Options) > 0 {
		enriched.Help = fmt.Sprintf("Choose one of the %d options or provide your own answer.", len(enriched.Options))
	}
	return &enriched, nil
}

// FallbackValidator accepts any non-empty answer. This is the deterministic
// degradation contract: a non-empty answer is valid.
type FallbackValidator struct{}

// Validate implements Validator.
func (FallbackValidator) Validate(_ context.Context, req *session.ClarificationRequest, resp *session.ClarificationResponse) (session.ValidationResult, error) {
	if strings.TrimSpace(resp.Answer) == "" && resp.SelectedOption == "" {
		return session.ValidationResult{
			IsValid: false,
			Issues:  []string{"answer is empty"},
		}, nil
	}

	// Option answers must name a known option when the question is closed.
	if resp.SelectedOption != "" && len(req.Options) > 0 {
		known := false
		for _, opt := range req.Options {
			if opt == resp.SelectedOption {
				known = true
				break
			}
		}
		if !known {
			return session.ValidationResult{
				IsValid: false,
				Issues:  []string{fmt.Sprintf("unknown option: %s", resp.SelectedOption)},
			}, nil
		}
	}

	return session.ValidationResult{
		IsValid:    true,
		Confidence: FallbackConfidence,
	}, nil
}

// FallbackGuide renders a deterministic status line from session state.
type FallbackGuide struct{}

// Summarize implements Guide.
func (FallbackGuide) Summarize(_ context.Context, state *session.ConversationState) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow phase: %s.", state.WorkflowPhase)
	if state.CurrentAgent != "" {
		fmt.Fprintf(&b, " Current agent: %s.", state.CurrentAgent)
	}
	switch n := len(state.Pending); {
	case n == 1:
		b.WriteString(" 1 clarification is waiting for your answer.")
	case n > 1:
		fmt.Fprintf(&b, " %d clarifications are waiting for your answer.", n)
	}
	if n := len(state.Queue); n > 0 {
		fmt.Fprintf(&b, " %d more question(s) are queued.", n)
	}
	if state.WorkflowPhase == session.PhaseCompleted {
		b.WriteString(" The pipeline is complete.")
	}
	return b.String(), nil
}
