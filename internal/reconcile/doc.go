// Package reconcile detects and repairs session state drift.
//
// The engine runs a fixed set of independent integrity checks against a
// session: orphaned surfaced clarifications, stuck running agents, missing
// agent records, workflow step consistency, and bounded history. Every issue
// is reported; corrective action is taken only where policy allows, and a
// recommendation is emitted whenever a fix exists but policy forbade it.
// Answered clarifications and completed steps are never touched unless a
// forced reset is requested.
package reconcile
