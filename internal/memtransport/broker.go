package memtransport

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/commcore/commcore-go/pkg/qos"
	"github.com/commcore/commcore-go/pkg/rterr"
	"github.com/commcore/commcore-go/pkg/transport"
)

// Options holds configuration for a Broker.
type Options struct {
	// Clock drives deadline, liveliness, and lifespan timing. Defaults
	// to the wall clock.
	Clock clock.Clock

	// Unsupported lists event kinds this broker should report as not
	// implemented, for exercising skippable-unsupported paths.
	Unsupported []transport.EventKind
}

// Broker is the in-process transport. It implements transport.Transport.
type Broker struct {
	mu     sync.Mutex
	closed bool

	clk         clock.Clock
	unsupported map[transport.EventKind]bool

	topics      map[string]*topicEntry
	watchers    map[int]func()
	nextWatcher int

	failCreate error
}

type topicEntry struct {
	typeName string
	pubs     map[*memPublisher]struct{}
	subs     map[*memSubscription]struct{}
}

// New creates a broker.
func New(opts Options) *Broker {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	unsupported := make(map[transport.EventKind]bool, len(opts.Unsupported))
	for _, k := range opts.Unsupported {
		unsupported[k] = true
	}
	return &Broker{
		clk:         clk,
		unsupported: unsupported,
		topics:      make(map[string]*topicEntry),
		watchers:    make(map[int]func()),
	}
}

// FailNextCreate makes the next CreatePublisher or CreateSubscription fail
// with err and leave no trace in the broker. Fault injection for tests.
func (b *Broker) FailNextCreate(err error) {
	b.mu.Lock()
	b.failCreate = err
	b.mu.Unlock()
}

// CreatePublisher implements transport.Transport.
func (b *Broker) CreatePublisher(topic, typeName string, profile qos.Profile) (transport.PublisherHandle, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("memtransport: transport closed")
	}
	if err := b.failCreate; err != nil {
		b.failCreate = nil
		b.mu.Unlock()
		return nil, err
	}
	entry, err := b.ensureTopicLocked(topic, typeName)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}

	p := newMemPublisher(b, topic, profile)
	var notify []func()
	for s := range entry.subs {
		notify = append(notify, b.matchLocked(p, s)...)
	}
	entry.pubs[p] = struct{}{}
	b.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	p.startTimers()
	b.notifyGraph()
	return p, nil
}

// CreateSubscription implements transport.Transport.
func (b *Broker) CreateSubscription(topic, typeName string, profile qos.Profile) (transport.SubscriptionHandle, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("memtransport: transport closed")
	}
	if err := b.failCreate; err != nil {
		b.failCreate = nil
		b.mu.Unlock()
		return nil, err
	}
	entry, err := b.ensureTopicLocked(topic, typeName)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}

	s := newMemSubscription(b, topic, profile)
	var notify []func()
	for p := range entry.pubs {
		notify = append(notify, b.matchLocked(p, s)...)
	}
	entry.subs[s] = struct{}{}
	b.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	b.notifyGraph()
	return s, nil
}

// SupportsEvent implements transport.Transport.
func (b *Broker) SupportsEvent(kind transport.EventKind) bool {
	if kind == transport.EventInvalid {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.unsupported[kind]
}

// TopicNamesAndTypes implements transport.Transport.
func (b *Broker) TopicNamesAndTypes() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.topics))
	for name, entry := range b.topics {
		out[name] = entry.typeName
	}
	return out
}

// CountPublishers implements transport.Transport.
func (b *Broker) CountPublishers(topic string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.topics[topic]
	if !ok {
		return 0, nil
	}
	return len(entry.pubs), nil
}

// CountSubscriptions implements transport.Transport.
func (b *Broker) CountSubscriptions(topic string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.topics[topic]
	if !ok {
		return 0, nil
	}
	return len(entry.subs), nil
}

// WatchGraph implements transport.Transport.
func (b *Broker) WatchGraph(fn func()) (cancel func()) {
	b.mu.Lock()
	id := b.nextWatcher
	b.nextWatcher++
	b.watchers[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
	}
}

// Close implements transport.Transport. Endpoints left open become inert.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var pubs []*memPublisher
	for _, entry := range b.topics {
		for p := range entry.pubs {
			pubs = append(pubs, p)
		}
	}
	b.topics = make(map[string]*topicEntry)
	b.watchers = make(map[int]func())
	b.mu.Unlock()

	for _, p := range pubs {
		p.stopTimers()
	}
	return nil
}

func (b *Broker) ensureTopicLocked(topic, typeName string) (*topicEntry, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: topic name is empty", rterr.ErrInvalidArgument)
	}
	if typeName == "" {
		return nil, fmt.Errorf("%w: type name is empty", rterr.ErrInvalidArgument)
	}
	entry, ok := b.topics[topic]
	if !ok {
		entry = &topicEntry{
			typeName: typeName,
			pubs:     make(map[*memPublisher]struct{}),
			subs:     make(map[*memSubscription]struct{}),
		}
		b.topics[topic] = entry
		return entry, nil
	}
	if entry.typeName != typeName {
		return nil, fmt.Errorf("%w: topic %q already carries type %q, not %q",
			rterr.ErrInvalidArgument, topic, entry.typeName, typeName)
	}
	return entry, nil
}

// matchLocked pairs p and s: either both sides gain a matched peer (with
// transient-local history replayed into the subscription) or both record an
// incompatible-QoS occurrence. Returns the deferred counter notifications
// to run outside the broker lock.
func (b *Broker) matchLocked(p *memPublisher, s *memSubscription) []func() {
	if policy := incompatiblePolicy(p.profile, s.profile); policy != qos.PolicyInvalid {
		return []func(){
			func() { p.cells[transport.PublisherOfferedIncompatibleQoS].record(1, 0, policy) },
			func() { s.cells[transport.SubscriptionRequestedIncompatibleQoS].record(1, 0, policy) },
		}
	}
	p.matched[s] = struct{}{}
	s.matched[p] = struct{}{}
	history := append([][]byte(nil), p.history...)
	lifespan := p.profile.Lifespan
	pubAlive := p.alive
	return []func(){
		func() { p.cells[transport.PublisherMatched].record(1, 1, qos.PolicyInvalid) },
		func() { s.cells[transport.SubscriptionMatched].record(1, 1, qos.PolicyInvalid) },
		func() {
			if pubAlive {
				s.cells[transport.SubscriptionLivelinessChanged].record(0, 1, qos.PolicyInvalid)
			}
			for _, payload := range history {
				s.enqueue(payload, lifespan)
			}
		},
	}
}

// unmatchLocked severs the pairing from the publisher side.
func (b *Broker) unmatchLocked(p *memPublisher, s *memSubscription) []func() {
	delete(p.matched, s)
	delete(s.matched, p)
	pubAlive := p.alive
	return []func(){
		func() { p.cells[transport.PublisherMatched].record(0, -1, qos.PolicyInvalid) },
		func() { s.cells[transport.SubscriptionMatched].record(0, -1, qos.PolicyInvalid) },
		func() {
			if pubAlive {
				s.cells[transport.SubscriptionLivelinessChanged].record(0, -1, qos.PolicyInvalid)
			}
		},
	}
}

func (b *Broker) dropTopicIfEmptyLocked(topic string) {
	if entry, ok := b.topics[topic]; ok && len(entry.pubs) == 0 && len(entry.subs) == 0 {
		delete(b.topics, topic)
	}
}

func (b *Broker) notifyGraph() {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.watchers))
	for _, fn := range b.watchers {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

var _ transport.Transport = (*Broker)(nil)
