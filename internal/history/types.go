package history

import (
	"context"
	"time"

	"github.com/blissfulldev/hitld/internal/session"
)

// Entry wraps a question with its answer, reuse count, and dependencies.
type Entry struct {
	Request      *session.ClarificationRequest  `json:"request"`
	Answer       *session.ClarificationResponse `json:"answer,omitempty"`
	ReusedCount  int                            `json:"reused_count"`
	Dependencies []string                       `json:"dependencies,omitempty"`
	AnsweredAt   *time.Time                     `json:"answered_at,omitempty"`
}

// Clone returns a deep copy of the entry. Accessors hand out clones so
// callers never share the service's internal records.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Request = e.Request.Clone()
	cp.Answer = e.Answer.Clone()
	cp.Dependencies = append([]string(nil), e.Dependencies...)
	if e.AnsweredAt != nil {
		t := *e.AnsweredAt
		cp.AnsweredAt = &t
	}
	return &cp
}

// Answered reports whether the entry carries an answer.
func (e *Entry) Answered() bool {
	return e.Answer != nil
}

// AnswerValid reports whether the recorded answer is usable for reuse.
// An answer with no validation result counts as valid; only an explicit
// failed validation disqualifies it.
func (e *Entry) AnswerValid() bool {
	if e.Answer == nil {
		return false
	}
	if e.Answer.Validation == nil {
		return true
	}
	return e.Answer.Validation.IsValid
}

// Confidence returns the recorded answer confidence. Answers without a
// validation result are trusted at full confidence: they were recorded by
// an explicit human action.
func (e *Entry) Confidence() float64 {
	if e.Answer == nil {
		return 0
	}
	if e.Answer.Validation == nil {
		return 1.0
	}
	return e.Answer.Validation.Confidence
}

// QuestionMatch is a reusable prior answer for a new question.
type QuestionMatch struct {
	QuestionID     string  `json:"question_id"`
	Confidence     float64 `json:"confidence"`
	PreviousAnswer string  `json:"previous_answer"`
}

// Candidate is a matcher-proposed prior question with a similarity score.
type Candidate struct {
	QuestionID string
	Similarity float64
}

// Matcher proposes prior questions similar to a new one. Implementations
// must be deterministic for identical input, or degrade to the exact-hash
// baseline on failure.
type Matcher interface {
	// Index registers a question for future matching.
	Index(ctx context.Context, questionID, question, questionContext string) error

	// Match returns the best candidate for the question, or nil when none
	// exists.
	Match(ctx context.Context, question, questionContext string) (*Candidate, error)
}
