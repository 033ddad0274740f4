package core

import (
	"fmt"
	"sync"

	"github.com/commcore/commcore-go/pkg/qos"
	"github.com/commcore/commcore-go/pkg/rterr"
	"github.com/commcore/commcore-go/pkg/transport"
)

// Publisher is a publishing endpoint bound to a node and a topic. QoS is
// fixed at creation; publishing with different QoS means creating another
// publisher.
type Publisher struct {
	mu    sync.Mutex
	state State

	node     *Node
	topic    string
	typeName string
	profile  qos.Profile
	handle   transport.PublisherHandle
	alloc    Allocator

	liveEvents int
}

// NewPublisher creates a publisher on node for topic. The topic name is
// expanded against the node's namespace ("~" names are node-private) and
// validated before the transport sees it. A nil profile means the default
// profile. On failure nothing is registered with the transport.
func NewPublisher(node *Node, topic, typeName string, profile *qos.Profile) (*Publisher, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: node is nil", rterr.ErrInvalidArgument)
	}
	if !node.IsValid() {
		return nil, fmt.Errorf("%w: cannot create publisher", rterr.ErrNodeInvalid)
	}
	if typeName == "" {
		return nil, fmt.Errorf("%w: type name is empty", rterr.ErrInvalidArgument)
	}
	expanded, err := expandTopicName(topic, node.fqn, node.namespace)
	if err != nil {
		return nil, err
	}
	resolved, err := node.ctx.resolver.Resolve(expanded, node.namespace)
	if err != nil {
		return nil, fmt.Errorf("resolving topic %q: %w", expanded, err)
	}

	prof := qos.DefaultProfile()
	if profile != nil {
		prof = *profile
	}

	handle, err := node.ctx.transportRef().CreatePublisher(resolved, typeName, prof)
	if err != nil {
		return nil, fmt.Errorf("transport create publisher on %q: %w", resolved, err)
	}

	return &Publisher{
		state:    StateLive,
		node:     node,
		topic:    resolved,
		typeName: typeName,
		profile:  prof,
		handle:   handle,
		alloc:    node.opts.Allocator,
	}, nil
}

// IsValid reports whether the publisher is live and its node still valid.
// Allocation-free.
func (p *Publisher) IsValid() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateLive && p.node.IsValid()
}

// TopicName returns the resolved, fully-qualified topic name.
func (p *Publisher) TopicName() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateLive {
		return "", fmt.Errorf("%w: publisher is %s", rterr.ErrPublisherInvalid, p.state)
	}
	return p.topic, nil
}

// Profile returns the QoS profile the publisher was created with.
func (p *Publisher) Profile() (qos.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateLive {
		return qos.Profile{}, fmt.Errorf("%w: publisher is %s", rterr.ErrPublisherInvalid, p.state)
	}
	return p.profile, nil
}

// Handle returns the transport handle for advanced use, or nil when the
// publisher is not live.
func (p *Publisher) Handle() transport.PublisherHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateLive {
		return nil
	}
	return p.handle
}

// Publish stages payload through the node's allocator and hands it to the
// transport for delivery to all matched, compatible subscriptions.
func (p *Publisher) Publish(payload []byte) error {
	p.mu.Lock()
	if p.state != StateLive {
		p.mu.Unlock()
		return fmt.Errorf("%w: cannot publish", rterr.ErrPublisherInvalid)
	}
	handle := p.handle
	alloc := p.alloc
	p.mu.Unlock()

	staged := alloc.Allocate(len(payload))
	if staged == nil && len(payload) > 0 {
		return fmt.Errorf("%w: staging %d bytes", rterr.ErrBadAlloc, len(payload))
	}
	copy(staged, payload)
	if err := handle.Publish(staged); err != nil {
		alloc.Release(staged)
		return fmt.Errorf("transport publish: %w", err)
	}
	return nil
}

// AssertLiveliness manually refreshes the publisher's liveliness lease.
func (p *Publisher) AssertLiveliness() error {
	p.mu.Lock()
	if p.state != StateLive {
		p.mu.Unlock()
		return fmt.Errorf("%w: cannot assert liveliness", rterr.ErrPublisherInvalid)
	}
	handle := p.handle
	p.mu.Unlock()

	if err := handle.AssertLiveliness(); err != nil {
		return fmt.Errorf("transport assert liveliness: %w", err)
	}
	return nil
}

// Fini finalizes the publisher. All status events created on it must be
// finalized first. A transport teardown failure is reported but the
// publisher is still marked finalized so repeated fini attempts cannot leak
// it. Finalizing a zero or already finalized publisher succeeds silently.
func (p *Publisher) Fini() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.state != StateLive {
		p.mu.Unlock()
		return nil
	}
	if p.liveEvents > 0 {
		n := p.liveEvents
		p.mu.Unlock()
		return fmt.Errorf("%w: publisher still has %d live status events", rterr.ErrInvalidArgument, n)
	}
	p.state = StateFinalized
	handle := p.handle
	p.mu.Unlock()

	if err := handle.Close(); err != nil {
		p.node.log.WithError(err).Warn("transport rejected publisher teardown")
		return fmt.Errorf("transport close publisher: %w", err)
	}
	return nil
}

func (p *Publisher) addEvent() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateLive {
		return fmt.Errorf("%w: cannot create event", rterr.ErrPublisherInvalid)
	}
	p.liveEvents++
	return nil
}

func (p *Publisher) removeEvent() {
	p.mu.Lock()
	if p.liveEvents > 0 {
		p.liveEvents--
	}
	p.mu.Unlock()
}
