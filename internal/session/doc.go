// Package session owns the per-session conversation state and its store.
//
// Each pipeline run is identified by a session id and tracked in a
// ConversationState record: agent statuses, workflow steps, surfaced and
// queued clarifications, answer history, and a bounded transition log.
// The in-memory store serializes all mutations to a given session behind a
// per-session mutex; different sessions proceed in parallel.
package session
