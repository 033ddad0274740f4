package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/commcore/commcore-go/pkg/rterr"
	"github.com/commcore/commcore-go/pkg/transport"
)

// Capacities declares how many entities of each category a wait set can
// hold. Capacities are fixed at creation; the slot arenas are allocated
// once and never grow, keeping the wait path allocation-free.
type Capacities struct {
	Subscriptions   int
	GuardConditions int
	Events          int
}

func (c Capacities) total() int {
	return c.Subscriptions + c.GuardConditions + c.Events
}

// WaitSet aggregates references to subscriptions, status events, and guard
// conditions and blocks until at least one is ready. It is reused across
// wait cycles: Clear, Add the entities of interest, Wait, then inspect
// which slots survived. Slots of entities that were not ready after a wait
// are nil; ready slots keep their original reference so callers distinguish
// by identity.
//
// A wait set has a single owner. Wait from two goroutines at once is
// rejected; Clear and Add must not race a Wait.
type WaitSet struct {
	mu    sync.Mutex
	state State

	ctx  *Context
	caps Capacities
	clk  clock.Clock

	subs   []*Subscription
	guards []*GuardCondition
	events []*StatusEvent
	nSubs, nGuards, nEvents int

	wake    chan struct{}
	waiting atomic.Bool
}

// NewWaitSet creates a wait set bound to ctx with fixed per-category
// capacities. The bound context's shutdown guard interrupts any wait on
// this set.
func NewWaitSet(ctx *Context, caps Capacities) (*WaitSet, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: context is nil", rterr.ErrInvalidArgument)
	}
	if !ctx.IsValid() {
		return nil, fmt.Errorf("%w: cannot create wait set", rterr.ErrContextInvalid)
	}
	if caps.Subscriptions < 0 || caps.GuardConditions < 0 || caps.Events < 0 {
		return nil, fmt.Errorf("%w: negative wait set capacity", rterr.ErrInvalidArgument)
	}
	return &WaitSet{
		state:  StateLive,
		ctx:    ctx,
		caps:   caps,
		clk:    ctx.clk,
		subs:   make([]*Subscription, caps.Subscriptions),
		guards: make([]*GuardCondition, caps.GuardConditions),
		events: make([]*StatusEvent, caps.Events),
		wake:   make(chan struct{}, 1),
	}, nil
}

// IsValid reports whether the wait set is live. Allocation-free.
func (ws *WaitSet) IsValid() bool {
	if ws == nil {
		return false
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state == StateLive
}

// Clear resets every slot to nil without changing capacities. Must be
// called before entities are re-added for the next cycle.
func (ws *WaitSet) Clear() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.state != StateLive {
		return fmt.Errorf("%w: wait set is %s", rterr.ErrWaitSetInvalid, ws.state)
	}
	for i := range ws.subs {
		ws.subs[i] = nil
	}
	for i := range ws.guards {
		ws.guards[i] = nil
	}
	for i := range ws.events {
		ws.events[i] = nil
	}
	ws.nSubs, ws.nGuards, ws.nEvents = 0, 0, 0
	return nil
}

// AddSubscription places a reference to s into the next free subscription
// slot.
func (ws *WaitSet) AddSubscription(s *Subscription) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.state != StateLive {
		return fmt.Errorf("%w: wait set is %s", rterr.ErrWaitSetInvalid, ws.state)
	}
	if !s.IsValid() {
		return fmt.Errorf("%w: subscription is not valid", rterr.ErrInvalidArgument)
	}
	if ws.nSubs >= ws.caps.Subscriptions {
		return fmt.Errorf("%w: %d subscription slots", rterr.ErrWaitSetFull, ws.caps.Subscriptions)
	}
	ws.subs[ws.nSubs] = s
	ws.nSubs++
	return nil
}

// AddGuardCondition places a reference to g into the next free guard slot.
func (ws *WaitSet) AddGuardCondition(g *GuardCondition) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.state != StateLive {
		return fmt.Errorf("%w: wait set is %s", rterr.ErrWaitSetInvalid, ws.state)
	}
	if !g.IsValid() {
		return fmt.Errorf("%w: guard condition is not valid", rterr.ErrInvalidArgument)
	}
	if ws.nGuards >= ws.caps.GuardConditions {
		return fmt.Errorf("%w: %d guard condition slots", rterr.ErrWaitSetFull, ws.caps.GuardConditions)
	}
	ws.guards[ws.nGuards] = g
	ws.nGuards++
	return nil
}

// AddEvent places a reference to e into the next free event slot.
func (ws *WaitSet) AddEvent(e *StatusEvent) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.state != StateLive {
		return fmt.Errorf("%w: wait set is %s", rterr.ErrWaitSetInvalid, ws.state)
	}
	if !e.IsValid() {
		return fmt.Errorf("%w: event is not valid", rterr.ErrInvalidArgument)
	}
	if ws.nEvents >= ws.caps.Events {
		return fmt.Errorf("%w: %d event slots", rterr.ErrWaitSetFull, ws.caps.Events)
	}
	ws.events[ws.nEvents] = e
	ws.nEvents++
	return nil
}

// ReadySubscription returns the subscription in slot i, or nil if that slot
// was not ready after the last Wait.
func (ws *WaitSet) ReadySubscription(i int) *Subscription {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if i < 0 || i >= len(ws.subs) {
		return nil
	}
	return ws.subs[i]
}

// ReadyGuardCondition returns the guard condition in slot i, or nil.
func (ws *WaitSet) ReadyGuardCondition(i int) *GuardCondition {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if i < 0 || i >= len(ws.guards) {
		return nil
	}
	return ws.guards[i]
}

// ReadyEvent returns the status event in slot i, or nil.
func (ws *WaitSet) ReadyEvent(i int) *StatusEvent {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if i < 0 || i >= len(ws.events) {
		return nil
	}
	return ws.events[i]
}

// Wait blocks until at least one added entity is ready, the timeout
// elapses, or the bound context shuts down.
//
// timeout < 0 blocks indefinitely, timeout == 0 polls without blocking,
// timeout > 0 blocks up to that duration. On return, slots of entities that
// were not ready are nil; ready slots keep their reference. A wait that
// elapses with nothing ready returns ErrTimeout; interruption by context
// shutdown with nothing ready also reports ErrTimeout, distinguishable via
// the context's validity.
func (ws *WaitSet) Wait(timeout time.Duration) error {
	if !ws.waiting.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: concurrent wait on the same wait set", rterr.ErrInvalidArgument)
	}
	defer ws.waiting.Store(false)

	ws.mu.Lock()
	if ws.state != StateLive {
		ws.mu.Unlock()
		return fmt.Errorf("%w: wait set is %s", rterr.ErrWaitSetInvalid, ws.state)
	}
	if ws.nSubs+ws.nGuards+ws.nEvents == 0 {
		ws.mu.Unlock()
		return fmt.Errorf("%w: wait set is empty", rterr.ErrInvalidArgument)
	}
	waitables := ws.collectLocked()
	ws.mu.Unlock()

	// Drain a stale wakeup from a previous cycle.
	select {
	case <-ws.wake:
	default:
	}

	if timeout != 0 {
		shutdown, _ := ws.ctx.ShutdownGuard()
		for _, w := range waitables {
			w.Attach(ws.wake)
		}
		if shutdown != nil {
			shutdown.Attach(ws.wake)
		}
		defer func() {
			for _, w := range waitables {
				w.Detach(ws.wake)
			}
			if shutdown != nil {
				shutdown.Detach(ws.wake)
			}
		}()
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = ws.clk.Now().Add(timeout)
	}

	for {
		if ws.anyReady(waitables) {
			ws.prune()
			return nil
		}
		if timeout == 0 || !ws.ctx.IsValid() {
			break
		}
		if timeout < 0 {
			<-ws.wake
			continue
		}
		remaining := deadline.Sub(ws.clk.Now())
		if remaining <= 0 {
			break
		}
		timer := ws.clk.Timer(remaining)
		select {
		case <-ws.wake:
			timer.Stop()
		case <-timer.C:
		}
	}

	ws.prune()
	if !ws.ctx.IsValid() {
		return fmt.Errorf("%w: wait interrupted by context shutdown", rterr.ErrTimeout)
	}
	return fmt.Errorf("%w: no entity became ready", rterr.ErrTimeout)
}

// Fini finalizes the wait set. It does not own the entities it references.
// Finalizing a zero or already finalized wait set succeeds silently.
func (ws *WaitSet) Fini() error {
	if ws == nil {
		return nil
	}
	if ws.waiting.Load() {
		return fmt.Errorf("%w: cannot fini a waiting wait set", rterr.ErrInvalidArgument)
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.state != StateLive {
		return nil
	}
	ws.state = StateFinalized
	ws.subs, ws.guards, ws.events = nil, nil, nil
	ws.nSubs, ws.nGuards, ws.nEvents = 0, 0, 0
	return nil
}

// collectLocked gathers the waitable view of every populated slot.
func (ws *WaitSet) collectLocked() []transport.Waitable {
	waitables := make([]transport.Waitable, 0, ws.nSubs+ws.nGuards+ws.nEvents)
	for i := 0; i < ws.nSubs; i++ {
		waitables = append(waitables, ws.subs[i].handle)
	}
	for i := 0; i < ws.nGuards; i++ {
		waitables = append(waitables, ws.guards[i])
	}
	for i := 0; i < ws.nEvents; i++ {
		waitables = append(waitables, ws.events[i].handle)
	}
	return waitables
}

func (ws *WaitSet) anyReady(waitables []transport.Waitable) bool {
	for _, w := range waitables {
		if w.Ready() {
			return true
		}
	}
	return false
}

// prune nils every slot whose entity is not ready, preserving the original
// reference in ready slots.
func (ws *WaitSet) prune() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for i := 0; i < ws.nSubs; i++ {
		if ws.subs[i] != nil && !ws.subs[i].handle.Ready() {
			ws.subs[i] = nil
		}
	}
	for i := 0; i < ws.nGuards; i++ {
		if ws.guards[i] != nil && !ws.guards[i].Ready() {
			ws.guards[i] = nil
		}
	}
	for i := 0; i < ws.nEvents; i++ {
		if ws.events[i] != nil && !ws.events[i].handle.Ready() {
			ws.events[i] = nil
		}
	}
}
