package reconcile

import "time"

// Options controls which corrective actions the engine may apply.
type Options struct {
	// PreserveUserData forbids removing surfaced clarifications, even
	// orphaned ones. Orphans are still reported with a recommendation.
	PreserveUserData bool

	// ForceReset enables the corrective workflow reset: active and failed
	// steps revert to pending, the phase drops to planning, and a stuck
	// current agent is cleared. Overrides PreserveUserData for orphan
	// removal.
	ForceReset bool

	// OrphanAge is how old a surfaced, unanswered clarification must be
	// before it counts as orphaned.
	OrphanAge time.Duration

	// TransitionRetention and StepHistoryRetention cap the transition log
	// and the step execution log. Hard caps, applied on every run.
	TransitionRetention  int
	StepHistoryRetention int
}

// DefaultOptions returns the conservative defaults: report everything,
// repair only what is safe, keep user data.
func DefaultOptions() *Options {
	return &Options{
		PreserveUserData:     true,
		ForceReset:           false,
		OrphanAge:            time.Hour,
		TransitionRetention:  100,
		StepHistoryRetention: 50,
	}
}

// Report is the outcome of one reconciliation run. Issues are always
// reported, even when policy prevented a fix; Recommendations name the fix
// that was withheld.
type Report struct {
	Success          bool     `json:"success"`
	IssuesFound      []string `json:"issues_found"`
	ActionsPerformed []string `json:"actions_performed"`
	Recommendations  []string `json:"recommendations"`
}

func (r *Report) issue(msg string) {
	r.IssuesFound = append(r.IssuesFound, msg)
}

func (r *Report) action(msg string) {
	r.ActionsPerformed = append(r.ActionsPerformed, msg)
}

func (r *Report) recommend(msg string) {
	r.Recommendations = append(r.Recommendations, msg)
}
