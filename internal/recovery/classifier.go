package recovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExternalClassifier refines a heuristic classification, typically with a
// model call. Implementations must honour the same taxonomy; any error or
// out-of-taxonomy result falls back to the heuristic verdict.
type ExternalClassifier interface {
	Classify(ctx context.Context, message string) (ErrorType, Severity, error)
}

// Classifier assigns a type and severity to every error. It never fails:
// an unmatched message classifies as system_failure/error.
type Classifier struct {
	external ExternalClassifier
	logger   *zap.Logger
}

// NewClassifier creates a classifier. The external refiner may be nil.
func NewClassifier(external ExternalClassifier, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{external: external, logger: logger}
}

// keywordRules maps message substrings to a classification, checked in
// order. First match wins.
var keywordRules = []struct {
	keywords []string
	errType  ErrorType
	severity Severity
}{
	{[]string{"clarification", "question", "enrich"}, ErrQuestionProcessing, SeverityError},
	{[]string{"reconcil", "state sync", "inconsistent state", "stale state"}, ErrStateSync, SeverityError},
	{[]string{"validation", "invalid answer", "invalid input", "malformed"}, ErrValidation, SeverityWarning},
	{[]string{"auto-advance", "auto advance", "advance timeout"}, ErrAutoAdvance, SeverityWarning},
	{[]string{"agent", "step execution", "pipeline stage"}, ErrAgentExecution, SeverityError},
	{[]string{"user action", "user cancelled", "user rejected"}, ErrUserAction, SeverityInfo},
	{[]string{"panic", "out of memory", "store is closed"}, ErrSystemFailure, SeverityCritical},
}

// Classify produces a classified error with its recovery options attached.
func (c *Classifier) Classify(ctx context.Context, sessionID string, err error) *ClassifiedError {
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}

	errType, severity := c.heuristic(message)

	if c.external != nil {
		extType, extSeverity, extErr := c.external.Classify(ctx, message)
		if extErr != nil {
			c.logger.Warn("external classifier failed, keeping heuristic verdict", zap.Error(extErr))
		} else if validType(extType) && validSeverity(extSeverity) {
			errType, severity = extType, extSeverity
		}
	}

	return &ClassifiedError{
		ID:        fmt.Sprintf("e-%s", uuid.New().String()[:8]),
		SessionID: sessionID,
		Type:      errType,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Options:   optionsForType(errType),
	}
}

func (c *Classifier) heuristic(message string) (ErrorType, Severity) {
	lower := strings.ToLower(message)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.errType, rule.severity
			}
		}
	}
	return ErrSystemFailure, SeverityError
}

func validType(t ErrorType) bool {
	for _, known := range ErrorTypes() {
		if t == known {
			return true
		}
	}
	return false
}

func validSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}
