// Package workflow drives the per-session agent state machine and the
// workflow step lifecycle.
//
// Agents move NOT_STARTED → RUNNING ⇄ WAITING_FOR_CLARIFICATION →
// COMPLETED, with RUNNING → FAILED as terminal-with-recovery. The overall
// workflow phase is derived from agent statuses and never regresses without
// an explicit reset.
package workflow
