package memtransport

import (
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/commcore/commcore-go/pkg/qos"
	"github.com/commcore/commcore-go/pkg/rterr"
	"github.com/commcore/commcore-go/pkg/transport"
)

// memPublisher is the broker side of one publisher endpoint. Mutable state
// (matched set, history, alive flag, timers) is guarded by the broker lock.
type memPublisher struct {
	b       *Broker
	topic   string
	profile qos.Profile
	closed  bool

	matched map[*memSubscription]struct{}
	cells   map[transport.EventKind]*statusCell

	// history retains the last Depth payloads for transient-local
	// replay to late-joining subscriptions.
	history [][]byte

	alive           bool
	livelinessTimer *clock.Timer
	deadlineTimer   *clock.Timer
}

func newMemPublisher(b *Broker, topic string, profile qos.Profile) *memPublisher {
	return &memPublisher{
		b:       b,
		topic:   topic,
		profile: profile,
		matched: make(map[*memSubscription]struct{}),
		cells: map[transport.EventKind]*statusCell{
			transport.PublisherOfferedDeadlineMissed:  newStatusCell(transport.PublisherOfferedDeadlineMissed),
			transport.PublisherLivelinessLost:         newStatusCell(transport.PublisherLivelinessLost),
			transport.PublisherOfferedIncompatibleQoS: newStatusCell(transport.PublisherOfferedIncompatibleQoS),
			transport.PublisherMatched:                newStatusCell(transport.PublisherMatched),
		},
		alive: true,
	}
}

// startTimers arms the deadline and liveliness timers after the publisher
// is registered. Called without the broker lock.
func (p *memPublisher) startTimers() {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if p.closed {
		return
	}
	if p.profile.Deadline > 0 {
		p.deadlineTimer = p.b.clk.AfterFunc(p.profile.Deadline, p.deadlineMissed)
	}
	if p.profile.LeaseDuration > 0 {
		p.livelinessTimer = p.b.clk.AfterFunc(p.profile.LeaseDuration, p.leaseExpired)
	}
}

// Publish implements transport.PublisherHandle.
func (p *memPublisher) Publish(payload []byte) error {
	b := p.b
	b.mu.Lock()
	if p.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: publisher handle closed", rterr.ErrPublisherInvalid)
	}
	if p.profile.Durability == qos.DurabilityTransientLocal {
		p.history = append(p.history, payload)
		if depth := p.historyDepth(); depth > 0 && len(p.history) > depth {
			p.history = p.history[len(p.history)-depth:]
		}
	}
	subs := make([]*memSubscription, 0, len(p.matched))
	for s := range p.matched {
		subs = append(subs, s)
	}
	lifespan := p.profile.Lifespan
	notify := p.refreshLivenessLocked()
	if p.deadlineTimer != nil {
		p.deadlineTimer.Stop()
		p.deadlineTimer = b.clk.AfterFunc(p.profile.Deadline, p.deadlineMissed)
	}
	b.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	for _, s := range subs {
		s.enqueue(payload, lifespan)
	}
	return nil
}

// AssertLiveliness implements transport.PublisherHandle.
func (p *memPublisher) AssertLiveliness() error {
	p.b.mu.Lock()
	if p.closed {
		p.b.mu.Unlock()
		return fmt.Errorf("%w: publisher handle closed", rterr.ErrPublisherInvalid)
	}
	notify := p.refreshLivenessLocked()
	p.b.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

// CreateEvent implements transport.PublisherHandle.
func (p *memPublisher) CreateEvent(kind transport.EventKind) (transport.EventHandle, error) {
	if !kind.PublisherHosted() {
		return nil, fmt.Errorf("%w: %s is not a publisher event kind", rterr.ErrInvalidArgument, kind)
	}
	if !p.b.SupportsEvent(kind) {
		return nil, fmt.Errorf("%w: event kind %s", rterr.ErrUnsupported, kind)
	}
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("%w: publisher handle closed", rterr.ErrPublisherInvalid)
	}
	return p.cells[kind], nil
}

// Close implements transport.PublisherHandle. Idempotent.
func (p *memPublisher) Close() error {
	b := p.b
	b.mu.Lock()
	if p.closed {
		b.mu.Unlock()
		return nil
	}
	p.closed = true
	var notify []func()
	for s := range p.matched {
		notify = append(notify, b.unmatchLocked(p, s)...)
	}
	if entry, ok := b.topics[p.topic]; ok {
		delete(entry.pubs, p)
		b.dropTopicIfEmptyLocked(p.topic)
	}
	b.mu.Unlock()

	p.stopTimers()
	for _, fn := range notify {
		fn()
	}
	b.notifyGraph()
	return nil
}

func (p *memPublisher) stopTimers() {
	p.b.mu.Lock()
	if p.deadlineTimer != nil {
		p.deadlineTimer.Stop()
		p.deadlineTimer = nil
	}
	if p.livelinessTimer != nil {
		p.livelinessTimer.Stop()
		p.livelinessTimer = nil
	}
	p.b.mu.Unlock()
}

func (p *memPublisher) historyDepth() int {
	if p.profile.History == qos.HistoryKeepAll {
		return 0
	}
	return p.profile.Depth
}

// refreshLivenessLocked restarts the lease and revives a not-alive
// publisher, returning the counter notifications to run unlocked.
func (p *memPublisher) refreshLivenessLocked() []func() {
	if p.profile.LeaseDuration <= 0 {
		return nil
	}
	if p.livelinessTimer != nil {
		p.livelinessTimer.Stop()
	}
	p.livelinessTimer = p.b.clk.AfterFunc(p.profile.LeaseDuration, p.leaseExpired)
	if p.alive {
		return nil
	}
	p.alive = true
	var notify []func()
	for s := range p.matched {
		cell := s.cells[transport.SubscriptionLivelinessChanged]
		notify = append(notify, func() { cell.record(-1, 1, qos.PolicyInvalid) })
	}
	return notify
}

// leaseExpired fires on the clock goroutine when the liveliness lease runs
// out without a publish or assertion.
func (p *memPublisher) leaseExpired() {
	p.b.mu.Lock()
	if p.closed || !p.alive {
		p.b.mu.Unlock()
		return
	}
	p.alive = false
	notify := []func(){
		func() { p.cells[transport.PublisherLivelinessLost].record(1, 0, qos.PolicyInvalid) },
	}
	for s := range p.matched {
		cell := s.cells[transport.SubscriptionLivelinessChanged]
		notify = append(notify, func() { cell.record(1, -1, qos.PolicyInvalid) })
	}
	p.b.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
}

// deadlineMissed fires on the clock goroutine each deadline period that
// passes without a publish.
func (p *memPublisher) deadlineMissed() {
	p.b.mu.Lock()
	if p.closed {
		p.b.mu.Unlock()
		return
	}
	notify := []func(){
		func() { p.cells[transport.PublisherOfferedDeadlineMissed].record(1, 0, qos.PolicyInvalid) },
	}
	for s := range p.matched {
		cell := s.cells[transport.SubscriptionRequestedDeadlineMissed]
		notify = append(notify, func() { cell.record(1, 0, qos.PolicyInvalid) })
	}
	p.deadlineTimer = p.b.clk.AfterFunc(p.profile.Deadline, p.deadlineMissed)
	p.b.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
}

var _ transport.PublisherHandle = (*memPublisher)(nil)
