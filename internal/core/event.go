package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/commcore/commcore-go/pkg/rterr"
	"github.com/commcore/commcore-go/pkg/transport"
)

// eventHost is the endpoint side of status event bookkeeping.
type eventHost interface {
	addEvent() error
	removeEvent()
}

type eventCallback struct {
	fn       func(userData any, pending int)
	userData any
}

// StatusEvent is one QoS/status notification channel bound to exactly one
// endpoint. Its kind is fixed at creation. Counters are monotonic in the
// totals; a Take resets only the change fields, so a second Take with no
// new occurrence reports zero change.
type StatusEvent struct {
	mu    sync.Mutex
	state State

	kind   transport.EventKind
	host   eventHost
	handle transport.EventHandle
	alloc  Allocator
	log    *logrus.Entry

	cb atomic.Pointer[eventCallback]
}

// NewPublisherEvent creates a status event of a publisher-hosted kind on
// pub. An out-of-range or subscription-hosted kind fails with
// ErrInvalidArgument; a kind the transport does not implement fails with
// ErrUnsupported, which callers should treat as skippable.
func NewPublisherEvent(pub *Publisher, kind transport.EventKind) (*StatusEvent, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: publisher is nil", rterr.ErrInvalidArgument)
	}
	if !kind.PublisherHosted() {
		return nil, fmt.Errorf("%w: %s is not a publisher event kind", rterr.ErrInvalidArgument, kind)
	}
	if !pub.IsValid() {
		return nil, fmt.Errorf("%w: cannot create event", rterr.ErrPublisherInvalid)
	}
	return newStatusEvent(pub, pub.handle.CreateEvent, kind, pub.alloc, pub.node.log)
}

// NewSubscriptionEvent creates a status event of a subscription-hosted
// kind on sub.
func NewSubscriptionEvent(sub *Subscription, kind transport.EventKind) (*StatusEvent, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: subscription is nil", rterr.ErrInvalidArgument)
	}
	if !kind.SubscriptionHosted() {
		return nil, fmt.Errorf("%w: %s is not a subscription event kind", rterr.ErrInvalidArgument, kind)
	}
	if !sub.IsValid() {
		return nil, fmt.Errorf("%w: cannot create event", rterr.ErrSubscriptionInvalid)
	}
	return newStatusEvent(sub, sub.handle.CreateEvent, kind, sub.node.opts.Allocator, sub.node.log)
}

func newStatusEvent(host eventHost, create func(transport.EventKind) (transport.EventHandle, error),
	kind transport.EventKind, alloc Allocator, log *logrus.Entry) (*StatusEvent, error) {
	if alloc == nil {
		return nil, fmt.Errorf("%w: allocator is nil", rterr.ErrInvalidArgument)
	}
	handle, err := create(kind)
	if err != nil {
		return nil, fmt.Errorf("transport create %s event: %w", kind, err)
	}
	if err := host.addEvent(); err != nil {
		// Endpoint raced into fini between the validity check and
		// registration; undo the transport side.
		_ = handle.Close()
		return nil, err
	}
	return &StatusEvent{
		state:  StateLive,
		kind:   kind,
		host:   host,
		handle: handle,
		alloc:  alloc,
		log:    log.WithField("event", kind.String()),
	}, nil
}

// Kind returns the event kind fixed at creation.
func (e *StatusEvent) Kind() (transport.EventKind, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateLive {
		return transport.EventInvalid, fmt.Errorf("%w: event is %s", rterr.ErrEventInvalid, e.state)
	}
	return e.kind, nil
}

// Take snapshots the latest counters from the transport and resets the
// change fields, so the next Take reports zero change unless a new
// occurrence has landed. Taking with no new occurrence returns all-zero
// change fields without error. Safe against one concurrent transport
// delivery.
func (e *StatusEvent) Take() (transport.EventStatus, error) {
	e.mu.Lock()
	if e.state != StateLive {
		e.mu.Unlock()
		return transport.EventStatus{}, fmt.Errorf("%w: cannot take", rterr.ErrEventInvalid)
	}
	handle := e.handle
	e.mu.Unlock()

	return handle.TakeStatus(), nil
}

// SetCallback registers fn for asynchronous occurrence notification with
// userData passed back on every invocation. If occurrences are already
// pending, fn is invoked exactly once synchronously with their count before
// SetCallback returns; afterwards the transport's delivery goroutine
// invokes it per occurrence. fn must be safe to call concurrently with Take
// and must not block. A nil fn unregisters.
//
// Counts are level-style, not ordered: an occurrence delivered between
// listener registration and the synchronous replay can reach fn first, so
// a later invocation may carry a smaller pending count than an earlier
// one. Treat each count as "at least this many pending now".
func (e *StatusEvent) SetCallback(fn func(userData any, pending int), userData any) error {
	e.mu.Lock()
	if e.state != StateLive {
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot set callback", rterr.ErrEventInvalid)
	}
	handle := e.handle
	e.mu.Unlock()

	if fn == nil {
		e.cb.Store(nil)
		handle.SetListener(nil)
		return nil
	}

	e.cb.Store(&eventCallback{fn: fn, userData: userData})
	pending := handle.SetListener(func(p int) {
		if cb := e.cb.Load(); cb != nil {
			cb.fn(cb.userData, p)
		}
	})
	if pending > 0 {
		fn(userData, pending)
	}
	return nil
}

// IsValid reports whether the event is usable: live state, a real kind, a
// non-nil transport handle, and a valid cached allocator. Failures log a
// diagnostic and return false; IsValid never fails hard.
func (e *StatusEvent) IsValid() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateLive {
		if e.log != nil {
			e.log.WithField("state", e.state.String()).Debug("event not valid")
		}
		return false
	}
	if e.kind == transport.EventInvalid {
		e.log.Debug("event kind is the invalid sentinel")
		return false
	}
	if e.handle == nil {
		e.log.Debug("event has no transport handle")
		return false
	}
	if e.alloc == nil {
		e.log.Debug("event allocator is nil")
		return false
	}
	return true
}

// Handle returns the opaque transport handle for advanced use, or nil when
// the event is not live. No error is reported beyond the nil return.
func (e *StatusEvent) Handle() transport.EventHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateLive {
		return nil
	}
	return e.handle
}

// Fini finalizes the event and releases its transport cell. Must precede
// finalization of the owning endpoint. Finalizing a zero or already
// finalized event succeeds silently.
func (e *StatusEvent) Fini() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	if e.state != StateLive {
		e.mu.Unlock()
		return nil
	}
	e.state = StateFinalized
	handle := e.handle
	host := e.host
	e.mu.Unlock()

	e.cb.Store(nil)
	err := handle.Close()
	host.removeEvent()
	if err != nil {
		e.log.WithError(err).Warn("transport rejected event teardown")
		return fmt.Errorf("transport close event: %w", err)
	}
	return nil
}
