package assist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap/zaptest"

	"github.com/blissfulldev/hitld/internal/session"
)

// stubModel returns fixed output or a fixed error.
type stubModel struct {
	out string
	err error
}

func (s stubModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: s.out}},
	}, nil
}

func (s stubModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return s.out, s.err
}

func TestNewLLMAssist_RequiresModel(t *testing.T) {
	_, err := NewLLMAssist(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm model is required")
}

func TestLLMAssist_Enrich(t *testing.T) {
	a, err := NewLLMAssist(stubModel{
		out: `{"help": "Pick the region closest to your users.", "examples": ["eu-west-1"]}`,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	req := session.NewClarificationRequest(session.AgentCore, "Region?", "bucket setup")
	enriched, err := a.Enrich(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Pick the region closest to your users.", enriched.Help)
	assert.Equal(t, []string{"eu-west-1"}, enriched.Examples)
	assert.Equal(t, req.Question, enriched.Question)
	assert.Empty(t, req.Help, "input must not be mutated")
}

func TestLLMAssist_EnrichFallsBackOnModelError(t *testing.T) {
	a, err := NewLLMAssist(stubModel{err: errors.New("rate limited")}, zaptest.NewLogger(t))
	require.NoError(t, err)

	req := session.NewClarificationRequest(session.AgentCore, "Region?", "bucket setup")
	enriched, err := a.Enrich(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.Question, enriched.Question)
}

func TestLLMAssist_EnrichFallsBackOnGarbage(t *testing.T) {
	a, err := NewLLMAssist(stubModel{out: "I cannot help with that."}, zaptest.NewLogger(t))
	require.NoError(t, err)

	req := session.NewClarificationRequest(session.AgentCore, "Region?", "bucket setup")
	enriched, err := a.Enrich(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.ID, enriched.ID)
}

func TestLLMAssist_Validate(t *testing.T) {
	a, err := NewLLMAssist(stubModel{
		out: `{"is_valid": true, "confidence": 0.92, "issues": []}`,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	req := session.NewClarificationRequest(session.AgentCore, "Region?", "bucket setup")
	resp := session.NewClarificationResponse(req.ID, "eu-west-1")

	result, err := a.Validate(context.Background(), req, resp)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, 0.92, result.Confidence)
}

func TestLLMAssist_ValidateClampsConfidence(t *testing.T) {
	a, err := NewLLMAssist(stubModel{
		out: `{"is_valid": true, "confidence": 3.5}`,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	req := session.NewClarificationRequest(session.AgentCore, "Region?", "")
	resp := session.NewClarificationResponse(req.ID, "eu-west-1")

	result, err := a.Validate(context.Background(), req, resp)
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestLLMAssist_ValidateFallsBackOnError(t *testing.T) {
	a, err := NewLLMAssist(stubModel{err: errors.New("timeout")}, zaptest.NewLogger(t))
	require.NoError(t, err)

	req := session.NewClarificationRequest(session.AgentCore, "Region?", "")
	resp := session.NewClarificationResponse(req.ID, "eu-west-1")

	result, err := a.Validate(context.Background(), req, resp)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, FallbackConfidence, result.Confidence)
}

func TestLLMAssist_Summarize(t *testing.T) {
	a, err := NewLLMAssist(stubModel{out: "  Design is underway.  "}, zaptest.NewLogger(t))
	require.NoError(t, err)

	state := session.NewConversationState("sess-1")
	summary, err := a.Summarize(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "Design is underway.", summary)
}

func TestLLMAssist_SummarizeFallsBackOnEmptyOutput(t *testing.T) {
	a, err := NewLLMAssist(stubModel{out: "   "}, zaptest.NewLogger(t))
	require.NoError(t, err)

	state := session.NewConversationState("sess-1")
	summary, err := a.Summarize(context.Background(), state)
	require.NoError(t, err)
	assert.Contains(t, summary, "planning")
}
