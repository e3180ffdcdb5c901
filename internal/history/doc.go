// Package history keeps a content-addressed record of previously asked
// clarification questions and their answers, and decides when an old answer
// can be reused for a new question.
//
// The baseline engine groups questions by the stable hash of their
// normalized text (equality classes, not semantics). An optional semantic
// matcher re-implements the same reuse contract over an in-process vector
// store: reusable iff similarity is at or above the threshold and the
// candidate carries a valid answer.
package history
