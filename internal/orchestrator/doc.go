// Package orchestrator composes the session store, clarification manager,
// workflow machine, reconciliation engine, auto-advance policy, and error
// recovery into the single operation surface consumed by a transport layer.
//
// The orchestrator makes no transport assumptions: every operation takes a
// context and a session id and returns plain values. DetermineNextAction
// reduces a session snapshot to a WorkflowAction, a closed set of variants
// the caller switches over exhaustively.
package orchestrator
