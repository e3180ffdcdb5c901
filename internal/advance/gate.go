package advance

import (
	"context"
	"time"
)

// Gate is the ask-mode confirmation window. Await blocks until the user
// confirms, rejects, the window elapses, or the context is cancelled. An
// elapsed window counts as consent. Each gate is single-use.
type Gate struct {
	timeout time.Duration
	confirm chan struct{}
	reject  chan struct{}
}

// NewGate creates a gate with the given wait window.
func NewGate(timeout time.Duration) *Gate {
	return &Gate{
		timeout: timeout,
		confirm: make(chan struct{}, 1),
		reject:  make(chan struct{}, 1),
	}
}

// Confirm signals explicit user consent. Never blocks.
func (g *Gate) Confirm() {
	select {
	case g.confirm <- struct{}{}:
	default:
	}
}

// Reject signals explicit user refusal. Never blocks.
func (g *Gate) Reject() {
	select {
	case g.reject <- struct{}{}:
	default:
	}
}

// Await waits for the first of confirmation, rejection, window expiry, or
// context cancellation. It reports whether the advance may proceed.
func (g *Gate) Await(ctx context.Context) (bool, error) {
	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case <-g.confirm:
		return true, nil
	case <-g.reject:
		return false, nil
	case <-timer.C:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
