package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/blissfulldev/hitld/internal/session"
)

// LLMAssist implements all three collaborator contracts over a langchaingo
// model. Every call degrades to the deterministic fallback on model or
// parse failure, so the core's behavior stays well-defined without a model.
type LLMAssist struct {
	model  llms.Model
	logger *zap.Logger

	fallbackEnricher  FallbackEnricher
	fallbackValidator FallbackValidator
	fallbackGuide     FallbackGuide
}

// NewLLMAssist creates LLM-backed collaborators.
func NewLLMAssist(model llms.Model, logger *zap.Logger) (*LLMAssist, error) {
	if model == nil {
		return nil, fmt.Errorf("llm model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMAssist{model: model, logger: logger}, nil
}

type enrichmentPayload struct {
	Help     string   `json:"help"`
	Examples []string `json:"examples"`
}

// Enrich implements Enricher.
func (a *LLMAssist) Enrich(ctx context.Context, req *session.ClarificationRequest) (*session.ClarificationRequest, error) {
	prompt := fmt.Sprintf(`An infrastructure assistant needs to ask the user a question.
Question: %s
Context: %s

Reply with JSON only: {"help": "<one sentence of help text>", "examples": ["<example answer>", ...]}.
At most three examples.`, req.Question, req.Context)

	out, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt, llms.WithTemperature(0))
	if err != nil {
		a.logger.Warn("enrichment model call failed, using fallback", zap.Error(err))
		return a.fallbackEnricher.Enrich(ctx, req)
	}

	var payload enrichmentPayload
	if err := unmarshalJSONBlock(out, &payload); err != nil {
		a.logger.Warn("enrichment response unparsable, using fallback", zap.Error(err))
		return a.fallbackEnricher.Enrich(ctx, req)
	}

	enriched := *req
	if payload.Help != "" {
		enriched.Help = payload.Help
	}
	if len(payload.Examples) > 0 {
		enriched.Examples = payload.Examples
	}
	return &enriched, nil
}

type validationPayload struct {
	IsValid    bool     `json:"is_valid"`
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues"`
}

// Validate implements Validator.
func (a *LLMAssist) Validate(ctx context.Context, req *session.ClarificationRequest, resp *session.ClarificationResponse) (session.ValidationResult, error) {
	prompt := fmt.Sprintf(`Judge whether this answer addresses the question.
Question: %s
Context: %s
Answer: %s

Reply with JSON only: {"is_valid": true|false, "confidence": <0..1>, "issues": ["<issue>", ...]}.`,
		req.Question, req.Context, resp.Answer)

	out, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt, llms.WithTemperature(0))
	if err != nil {
		a.logger.Warn("validation model call failed, using fallback", zap.Error(err))
		return a.fallbackValidator.Validate(ctx, req, resp)
	}

	var payload validationPayload
	if err := unmarshalJSONBlock(out, &payload); err != nil {
		a.logger.Warn("validation response unparsable, using fallback", zap.Error(err))
		return a.fallbackValidator.Validate(ctx, req, resp)
	}

	if payload.Confidence < 0 {
		payload.Confidence = 0
	}
	if payload.Confidence > 1 {
		payload.Confidence = 1
	}
	return session.ValidationResult{
		IsValid:    payload.IsValid,
		Confidence: payload.Confidence,
		Issues:     payload.Issues,
	}, nil
}

// Summarize implements Guide.
func (a *LLMAssist) Summarize(ctx context.Context, state *session.ConversationState) (string, error) {
	snapshot, err := json.Marshal(map[string]any{
		"phase":         state.WorkflowPhase,
		"current_agent": state.CurrentAgent,
		"agent_states":  state.AgentStates,
		"pending":       len(state.Pending),
		"queued":        len(state.Queue),
	})
	if err != nil {
		return a.fallbackGuide.Summarize(ctx, state)
	}

	prompt := fmt.Sprintf(`Summarize this pipeline status for the user in two sentences or fewer:
%s`, snapshot)

	out, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt, llms.WithTemperature(0))
	if err != nil || strings.TrimSpace(out) == "" {
		a.logger.Warn("guidance model call failed, using fallback", zap.Error(err))
		return a.fallbackGuide.Summarize(ctx, state)
	}
	return strings.TrimSpace(out), nil
}

// unmarshalJSONBlock extracts the first JSON object from model output,
// tolerating prose and code fences around it.
func unmarshalJSONBlock(out string, v any) error {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start == -1 || end == -1 || end < start {
		return fmt.Errorf("no JSON object in model output")
	}
	return json.Unmarshal([]byte(out[start:end+1]), v)
}
