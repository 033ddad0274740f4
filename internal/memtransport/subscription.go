package memtransport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/commcore/commcore-go/pkg/qos"
	"github.com/commcore/commcore-go/pkg/rterr"
	"github.com/commcore/commcore-go/pkg/transport"
)

type queuedMessage struct {
	payload []byte
	expires time.Time
}

// memSubscription is the broker side of one subscription endpoint. The
// matched set is guarded by the broker lock; the delivery queue has its own
// lock so publishes do not serialize behind graph changes.
type memSubscription struct {
	b       *Broker
	topic   string
	profile qos.Profile
	closed  bool

	matched map[*memPublisher]struct{}
	cells   map[transport.EventKind]*statusCell

	qmu      sync.Mutex
	queue    *queue.Queue
	hasData  atomic.Bool
	watchers []chan<- struct{}
}

func newMemSubscription(b *Broker, topic string, profile qos.Profile) *memSubscription {
	return &memSubscription{
		b:       b,
		topic:   topic,
		profile: profile,
		matched: make(map[*memPublisher]struct{}),
		queue:   queue.New(),
		cells: map[transport.EventKind]*statusCell{
			transport.SubscriptionRequestedDeadlineMissed:  newStatusCell(transport.SubscriptionRequestedDeadlineMissed),
			transport.SubscriptionLivelinessChanged:        newStatusCell(transport.SubscriptionLivelinessChanged),
			transport.SubscriptionRequestedIncompatibleQoS: newStatusCell(transport.SubscriptionRequestedIncompatibleQoS),
			transport.SubscriptionMessageLost:              newStatusCell(transport.SubscriptionMessageLost),
			transport.SubscriptionMatched:                  newStatusCell(transport.SubscriptionMatched),
		},
	}
}

// enqueue appends one payload, evicting the oldest message and counting it
// lost when the keep-last depth is exceeded.
func (s *memSubscription) enqueue(payload []byte, lifespan time.Duration) {
	var expires time.Time
	if lifespan > 0 {
		expires = s.b.clk.Now().Add(lifespan)
	}

	s.qmu.Lock()
	if s.closed {
		s.qmu.Unlock()
		return
	}
	lost := false
	if depth := s.queueDepth(); depth > 0 && s.queue.Length() >= depth {
		s.queue.Remove()
		lost = true
	}
	s.queue.Add(queuedMessage{payload: payload, expires: expires})
	s.hasData.Store(true)
	watchers := append([]chan<- struct{}(nil), s.watchers...)
	s.qmu.Unlock()

	if lost {
		s.cells[transport.SubscriptionMessageLost].record(1, 0, qos.PolicyInvalid)
	}
	for _, ch := range watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *memSubscription) queueDepth() int {
	if s.profile.History == qos.HistoryKeepAll {
		return 0
	}
	return s.profile.Depth
}

// Take implements transport.SubscriptionHandle. Messages past their
// lifespan are discarded silently, per lifespan semantics.
func (s *memSubscription) Take() ([]byte, bool, error) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.closed {
		return nil, false, fmt.Errorf("%w: subscription handle closed", rterr.ErrSubscriptionInvalid)
	}
	now := s.b.clk.Now()
	for s.queue.Length() > 0 {
		m := s.queue.Remove().(queuedMessage)
		if !m.expires.IsZero() && now.After(m.expires) {
			continue
		}
		s.hasData.Store(s.queue.Length() > 0)
		return m.payload, true, nil
	}
	s.hasData.Store(false)
	return nil, false, nil
}

// Ready implements transport.Waitable: at least one message is queued.
// Messages that expire while queued can leave Ready briefly true; the
// following Take reports no data and the waiter rescans. Allocation-free.
func (s *memSubscription) Ready() bool { return s.hasData.Load() }

// Attach implements transport.Waitable.
func (s *memSubscription) Attach(ch chan<- struct{}) {
	s.qmu.Lock()
	s.watchers = append(s.watchers, ch)
	s.qmu.Unlock()
}

// Detach implements transport.Waitable.
func (s *memSubscription) Detach(ch chan<- struct{}) {
	s.qmu.Lock()
	for i, w := range s.watchers {
		if w == ch {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			break
		}
	}
	s.qmu.Unlock()
}

// CreateEvent implements transport.SubscriptionHandle.
func (s *memSubscription) CreateEvent(kind transport.EventKind) (transport.EventHandle, error) {
	if !kind.SubscriptionHosted() {
		return nil, fmt.Errorf("%w: %s is not a subscription event kind", rterr.ErrInvalidArgument, kind)
	}
	if !s.b.SupportsEvent(kind) {
		return nil, fmt.Errorf("%w: event kind %s", rterr.ErrUnsupported, kind)
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: subscription handle closed", rterr.ErrSubscriptionInvalid)
	}
	return s.cells[kind], nil
}

// Close implements transport.SubscriptionHandle. Idempotent.
func (s *memSubscription) Close() error {
	b := s.b
	b.mu.Lock()
	if s.closed {
		b.mu.Unlock()
		return nil
	}
	var notify []func()
	for p := range s.matched {
		notify = append(notify, b.unmatchLocked(p, s)...)
	}
	if entry, ok := b.topics[s.topic]; ok {
		delete(entry.subs, s)
		b.dropTopicIfEmptyLocked(s.topic)
	}
	s.qmu.Lock()
	s.closed = true
	s.queue = queue.New()
	s.hasData.Store(false)
	s.watchers = nil
	s.qmu.Unlock()
	b.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	b.notifyGraph()
	return nil
}

var _ transport.SubscriptionHandle = (*memSubscription)(nil)
