// Package advance decides whether the pipeline may move to the next agent
// without explicit user confirmation.
//
// Policy evaluation is a pure function of session state and user
// preference. In ask mode, the Gate provides the time-boxed wait: a
// cancellable timer raced against explicit confirmation or rejection, never
// a blocking sleep.
package advance
