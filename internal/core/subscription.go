package core

import (
	"fmt"
	"sync"

	"github.com/commcore/commcore-go/pkg/qos"
	"github.com/commcore/commcore-go/pkg/rterr"
	"github.com/commcore/commcore-go/pkg/transport"
)

// Subscription is a receiving endpoint bound to a node and a topic.
type Subscription struct {
	mu    sync.Mutex
	state State

	node     *Node
	topic    string
	typeName string
	profile  qos.Profile
	handle   transport.SubscriptionHandle

	liveEvents int
}

// NewSubscription creates a subscription on node for topic. Topic
// expansion, validation, and resolution follow the same rules as
// NewPublisher. On failure nothing is registered with the transport.
func NewSubscription(node *Node, topic, typeName string, profile *qos.Profile) (*Subscription, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: node is nil", rterr.ErrInvalidArgument)
	}
	if !node.IsValid() {
		return nil, fmt.Errorf("%w: cannot create subscription", rterr.ErrNodeInvalid)
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

	handle, err := node.ctx.transportRef().CreateSubscription(resolved, typeName, prof)
	if err != nil {
		return nil, fmt.Errorf("transport create subscription on %q: %w", resolved, err)
	}

	return &Subscription{
		state:    StateLive,
		node:     node,
		topic:    resolved,
		typeName: typeName,
		profile:  prof,
		handle:   handle,
	}, nil
}

// IsValid reports whether the subscription is live and its node still
// valid. Allocation-free.
func (s *Subscription) IsValid() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateLive && s.node.IsValid()
}

// TopicName returns the resolved, fully-qualified topic name.
func (s *Subscription) TopicName() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLive {
		return "", fmt.Errorf("%w: subscription is %s", rterr.ErrSubscriptionInvalid, s.state)
	}
	return s.topic, nil
}

// Profile returns the QoS profile the subscription was created with.
func (s *Subscription) Profile() (qos.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLive {
		return qos.Profile{}, fmt.Errorf("%w: subscription is %s", rterr.ErrSubscriptionInvalid, s.state)
	}
	return s.profile, nil
}

// Handle returns the transport handle for advanced use, or nil when the
// subscription is not live.
func (s *Subscription) Handle() transport.SubscriptionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLive {
		return nil
	}
	return s.handle
}

// Take removes and returns the oldest queued message. ok is false when no
// message is queued; that is not an error. Non-blocking.
func (s *Subscription) Take() (payload []byte, ok bool, err error) {
	s.mu.Lock()
	if s.state != StateLive {
		s.mu.Unlock()
		return nil, false, fmt.Errorf("%w: cannot take", rterr.ErrSubscriptionInvalid)
	}
	handle := s.handle
	s.mu.Unlock()

	payload, ok, err = handle.Take()
	if err != nil {
		return nil, false, fmt.Errorf("transport take: %w", err)
	}
	return payload, ok, nil
}

// Fini finalizes the subscription. All status events created on it must be
// finalized first. A transport teardown failure is reported but the
// subscription is still marked finalized. Finalizing a zero or already
// finalized subscription succeeds silently.
func (s *Subscription) Fini() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.state != StateLive {
		s.mu.Unlock()
		return nil
	}
	if s.liveEvents > 0 {
		n := s.liveEvents
		s.mu.Unlock()
		return fmt.Errorf("%w: subscription still has %d live status events", rterr.ErrInvalidArgument, n)
	}
	s.state = StateFinalized
	handle := s.handle
	s.mu.Unlock()

	if err := handle.Close(); err != nil {
		s.node.log.WithError(err).Warn("transport rejected subscription teardown")
		return fmt.Errorf("transport close subscription: %w", err)
	}
	return nil
}

func (s *Subscription) addEvent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLive {
		return fmt.Errorf("%w: cannot create event", rterr.ErrSubscriptionInvalid)
	}
	s.liveEvents++
	return nil
}

func (s *Subscription) removeEvent() {
	s.mu.Lock()
	if s.liveEvents > 0 {
		s.liveEvents--
	}
	s.mu.Unlock()
}
