package transport

import "github.com/commcore/commcore-go/pkg/qos"

// Waitable is anything a wait set can block on. Ready must be cheap and
// allocation-free: it is polled on every wait cycle. Attach registers a
// wakeup channel to receive a non-blocking signal whenever the entity
// becomes ready; Detach removes it. An entity may be attached to at most a
// handful of channels at a time and delivery is best-effort (level state is
// authoritative, the channel only wakes the waiter to rescan).
type Waitable interface {
	Ready() bool
	Attach(ch chan<- struct{})
	Detach(ch chan<- struct{})
}

// PublisherHandle is the transport side of one publisher endpoint.
type PublisherHandle interface {
	// Publish hands one serialized message to the transport for delivery
	// to all matched, QoS-compatible subscriptions.
	Publish(payload []byte) error

	// AssertLiveliness manually refreshes the publisher's liveliness
	// lease. Required for manual-by-topic liveliness; a no-op under
	// automatic liveliness.
	AssertLiveliness() error

	// CreateEvent creates the raw counter cell for one publisher-hosted
	// event kind, or fails with an unsupported-capability error.
	CreateEvent(kind EventKind) (EventHandle, error)

	// Close detaches the publisher from the matching graph. Idempotent.
	Close() error
}

// SubscriptionHandle is the transport side of one subscription endpoint.
// Its Waitable readiness means at least one unconsumed message is queued.
type SubscriptionHandle interface {
	Waitable

	// Take removes and returns the oldest queued message. ok is false
	// when the queue is empty; that is not an error.
	Take() (payload []byte, ok bool, err error)

	// CreateEvent creates the raw counter cell for one
	// subscription-hosted event kind.
	CreateEvent(kind EventKind) (EventHandle, error)

	// Close detaches the subscription from the matching graph. Idempotent.
	Close() error
}

// EventHandle is the raw status counter cell behind one StatusEvent. Its
// Waitable readiness means the counters changed since the last TakeStatus.
type EventHandle interface {
	Waitable

	// TakeStatus snapshots the counters and resets only the change
	// fields, atomically with respect to concurrent deliveries.
	TakeStatus() EventStatus

	// SetListener registers fn to be invoked on each new occurrence with
	// the number of occurrences not yet consumed by TakeStatus. It
	// returns the count already pending at registration time; fn is not
	// invoked for those. A nil fn unregisters. fn runs on the
	// transport's delivery goroutine and must not block.
	SetListener(fn func(pending int)) int

	// Close releases the cell. Idempotent.
	Close() error
}

// Transport creates and destroys endpoint and event handles, performs the
// actual matching and delivery, and answers graph queries. Implementations
// must be safe for concurrent use.
type Transport interface {
	// CreatePublisher registers a publisher for topic carrying messages
	// of the named type.
	CreatePublisher(topic, typeName string, profile qos.Profile) (PublisherHandle, error)

	// CreateSubscription registers a subscription for topic.
	CreateSubscription(topic, typeName string, profile qos.Profile) (SubscriptionHandle, error)

	// SupportsEvent reports whether the transport implements the given
	// event kind. CreateEvent on an unsupported kind fails; callers are
	// expected to treat that as skippable.
	SupportsEvent(kind EventKind) bool

	// TopicNamesAndTypes returns the currently known topics and their
	// message type names.
	TopicNamesAndTypes() map[string]string

	// CountPublishers returns the number of publishers on topic.
	CountPublishers(topic string) (int, error)

	// CountSubscriptions returns the number of subscriptions on topic.
	CountSubscriptions(topic string) (int, error)

	// WatchGraph registers fn to be called after every change to the set
	// of discoverable endpoints. The returned cancel func unregisters.
	WatchGraph(fn func()) (cancel func())

	// Close tears the transport down. Idempotent.
	Close() error
}
