// Package recovery classifies failures and selects recovery actions.
//
// Classification is heuristic-first: keyword matching against the error
// message, optionally refined by an external classifier, with a guaranteed
// fallback so every error receives a type and severity. Each type carries a
// static catalog of recovery options; selection filters prerequisites
// against current session state and prefers low-risk, high-success options.
// Automatic recovery runs only for non-critical severities and is
// rate-limited.
package recovery
