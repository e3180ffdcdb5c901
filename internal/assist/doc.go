// Package assist holds the contracts for the opaque language-model
// collaborators the core consumes: question enrichment, answer validation,
// and guidance generation.
//
// All three read state and return a value without mutating anything, and
// every implementation degrades to a
// deterministic fallback so the state machine's safety properties hold when
// the model call fails or no model is configured.
package assist
