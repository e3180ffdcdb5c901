package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestClassifyHeuristics(t *testing.T) {
	classifier := NewClassifier(nil, zaptest.NewLogger(t))
	ctx := context.Background()

	tests := []struct {
		name         string
		err          error
		wantType     ErrorType
		wantSeverity Severity
	}{
		{"clarification failure", errors.New("failed to enrich clarification q-123"), ErrQuestionProcessing, SeverityError},
		{"reconciliation failure", errors.New("reconcile session s1: timeout"), ErrStateSync, SeverityError},
		{"validation failure", errors.New("invalid answer for q-9"), ErrValidation, SeverityWarning},
		{"advance failure", errors.New("auto-advance gate timed out twice"), ErrAutoAdvance, SeverityWarning},
		{"agent failure", errors.New("agent terraform_agent crashed"), ErrAgentExecution, SeverityError},
		{"user cancel", errors.New("user cancelled the approval"), ErrUserAction, SeverityInfo},
		{"panic", errors.New("panic: runtime error"), ErrSystemFailure, SeverityCritical},
		{"unmatched", errors.New("something odd happened"), ErrSystemFailure, SeverityError},
		{"nil error", nil, ErrSystemFailure, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifier.Classify(ctx, "s1", tt.err)
			assert.Equal(t, tt.wantType, classified.Type)
			assert.Equal(t, tt.wantSeverity, classified.Severity)
			assert.NotEmpty(t, classified.ID)
			assert.NotEmpty(t, classified.Options, "every classification carries recovery options")
		})
	}
}

type stubExternal struct {
	errType  ErrorType
	severity Severity
	err      error
}

func (s stubExternal) Classify(context.Context, string) (ErrorType, Severity, error) {
	return s.errType, s.severity, s.err
}

func TestClassifyExternalRefinement(t *testing.T) {
	ctx := context.Background()

	t.Run("external verdict wins", func(t *testing.T) {
		classifier := NewClassifier(stubExternal{errType: ErrUserAction, severity: SeverityInfo}, zaptest.NewLogger(t))
		classified := classifier.Classify(ctx, "s1", errors.New("something odd"))
		assert.Equal(t, ErrUserAction, classified.Type)
		assert.Equal(t, SeverityInfo, classified.Severity)
	})

	t.Run("external failure keeps heuristic", func(t *testing.T) {
		classifier := NewClassifier(stubExternal{err: errors.New("model unavailable")}, zaptest.NewLogger(t))
		classified := classifier.Classify(ctx, "s1", errors.New("invalid answer"))
		assert.Equal(t, ErrValidation, classified.Type)
	})

	t.Run("out of taxonomy result ignored", func(t *testing.T) {
		classifier := NewClassifier(stubExternal{errType: "weird", severity: "huge"}, zaptest.NewLogger(t))
		classified := classifier.Classify(ctx, "s1", errors.New("invalid answer"))
		assert.Equal(t, ErrValidation, classified.Type)
		assert.Equal(t, SeverityWarning, classified.Severity)
	})
}

func TestOptionsSortedLowRiskFirst(t *testing.T) {
	for _, errType := range ErrorTypes() {
		opts := optionsForType(errType)
		require.NotEmpty(t, opts, string(errType))
		for i := 1; i < len(opts); i++ {
			prev, cur := opts[i-1], opts[i]
			if riskRank(prev.RiskLevel) == riskRank(cur.RiskLevel) {
				assert.GreaterOrEqual(t, prev.EstimatedSuccessRate, cur.EstimatedSuccessRate, string(errType))
			} else {
				assert.Less(t, riskRank(prev.RiskLevel), riskRank(cur.RiskLevel), string(errType))
			}
		}
	}
}
