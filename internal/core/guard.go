package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/commcore/commcore-go/pkg/rterr"
)

// GuardCondition is a manually triggerable wake signal. Triggering it wakes
// any wait set it is registered with; it stays ready until its owner calls
// Consume. One goroutine triggering a guard that another goroutine's wait
// set is blocked on is the supported way to interrupt a wait early.
type GuardCondition struct {
	mu        sync.Mutex
	state     State
	triggered atomic.Bool
	watchers  []chan<- struct{}
}

// NewGuardCondition creates a guard condition bound to ctx. The context
// must be live; guards owned by the runtime itself (context shutdown, node
// graph changes) are created internally.
func NewGuardCondition(ctx *Context) (*GuardCondition, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: context is nil", rterr.ErrInvalidArgument)
	}
	if !ctx.IsValid() {
		return nil, fmt.Errorf("%w: cannot create guard condition", rterr.ErrContextInvalid)
	}
	return newGuardCondition(), nil
}

func newGuardCondition() *GuardCondition {
	return &GuardCondition{state: StateLive}
}

// Trigger marks the guard ready and wakes every attached waiter.
func (g *GuardCondition) Trigger() error {
	if g == nil {
		return fmt.Errorf("%w: guard condition is nil", rterr.ErrInvalidArgument)
	}
	g.mu.Lock()
	if g.state != StateLive {
		g.mu.Unlock()
		return fmt.Errorf("%w: guard condition is %s", rterr.ErrInvalidArgument, g.state)
	}
	g.triggered.Store(true)
	watchers := g.watchers
	g.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// IsTriggered reports whether the guard has been triggered and not yet
// consumed. Allocation-free.
func (g *GuardCondition) IsTriggered() bool {
	if g == nil {
		return false
	}
	return g.triggered.Load()
}

// Consume clears the triggered flag and reports whether it was set. Only
// the guard's owner should consume it.
func (g *GuardCondition) Consume() bool {
	if g == nil {
		return false
	}
	return g.triggered.Swap(false)
}

// IsValid reports whether the guard is live. Allocation-free.
func (g *GuardCondition) IsValid() bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == StateLive
}

// Ready implements transport.Waitable.
func (g *GuardCondition) Ready() bool { return g.triggered.Load() }

// Attach implements transport.Waitable.
func (g *GuardCondition) Attach(ch chan<- struct{}) {
	g.mu.Lock()
	g.watchers = append(g.watchers, ch)
	g.mu.Unlock()
}

// Detach implements transport.Waitable.
func (g *GuardCondition) Detach(ch chan<- struct{}) {
	g.mu.Lock()
	for i, w := range g.watchers {
		if w == ch {
			g.watchers = append(g.watchers[:i], g.watchers[i+1:]...)
			break
		}
	}
	g.mu.Unlock()
}

// Fini finalizes the guard. Finalizing a zero or already finalized guard
// succeeds silently.
func (g *GuardCondition) Fini() error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateLive {
		return nil
	}
	g.state = StateFinalized
	g.watchers = nil
	g.triggered.Store(false)
	return nil
}
