package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commcore/commcore-go/internal/memtransport"
	"github.com/commcore/commcore-go/pkg/rterr"
	"github.com/commcore/commcore-go/pkg/transport"
)

// matchedPair creates a node with a publisher and subscription on the same
// topic, matched through the in-process transport.
func matchedPair(t *testing.T, ctx *Context) (*Publisher, *Subscription) {
	t.Helper()
	node, err := NewNode(ctx, "n", "/ns", nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, node.Fini()) })

	pub, err := NewPublisher(node, "chatter", "std_msgs/String", nil)
	require.NoError(t, err)
	sub, err := NewSubscription(node, "chatter", "std_msgs/String", nil)
	require.NoError(t, err)
	return pub, sub
}

func TestEventTakeResetsChangeFields(t *testing.T) {
	ctx := newTestContext(t, nil)

	node, err := NewNode(ctx, "n", "/ns", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, node.Fini()) }()

	sub, err := NewSubscription(node, "chatter", "std_msgs/String", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, sub.Fini()) }()

	event, err := NewSubscriptionEvent(sub, transport.SubscriptionMatched)
	require.NoError(t, err)
	defer func() { require.NoError(t, event.Fini()) }()

	kind, err := event.Kind()
	require.NoError(t, err)
	assert.Equal(t, transport.SubscriptionMatched, kind)

	// No occurrence yet: all-zero changes, no error.
	status, err := event.Take()
	require.NoError(t, err)
	m := status.Matched()
	assert.Zero(t, m.TotalCount)
	assert.Zero(t, m.TotalCountChange)
	assert.Zero(t, m.CurrentCount)
	assert.Zero(t, m.CurrentCountChange)

	pub, err := NewPublisher(node, "chatter", "std_msgs/String", nil)
	require.NoError(t, err)

	status, err = event.Take()
	require.NoError(t, err)
	m = status.Matched()
	assert.Equal(t, 1, m.TotalCount)
	assert.Equal(t, 1, m.TotalCountChange)
	assert.Equal(t, 1, m.CurrentCount)
	assert.Equal(t, 1, m.CurrentCountChange)

	// Second take with no new occurrence: totals hold, changes reset.
	status, err = event.Take()
	require.NoError(t, err)
	m = status.Matched()
	assert.Equal(t, 1, m.TotalCount)
	assert.Zero(t, m.TotalCountChange)
	assert.Equal(t, 1, m.CurrentCount)
	assert.Zero(t, m.CurrentCountChange)

	require.NoError(t, pub.Fini())

	status, err = event.Take()
	require.NoError(t, err)
	m = status.Matched()
	assert.Equal(t, 1, m.TotalCount, "totals are monotonic")
	assert.Zero(t, m.TotalCountChange)
	assert.Zero(t, m.CurrentCount)
	assert.Equal(t, -1, m.CurrentCountChange)
}

func TestEventReplaysOccurrencesBeforeCreation(t *testing.T) {
	ctx := newTestContext(t, nil)
	pub, sub := matchedPair(t, ctx)
	defer func() { require.NoError(t, pub.Fini()) }()

	// The match happened before any event existed; the occurrence must
	// still be observable afterwards.
	event, err := NewSubscriptionEvent(sub, transport.SubscriptionMatched)
	require.NoError(t, err)

	status, err := event.Take()
	require.NoError(t, err)
	assert.Equal(t, 1, status.Matched().TotalCountChange)

	require.NoError(t, event.Fini())
	require.NoError(t, sub.Fini())
}

func TestEventCallbackReplayAndDelivery(t *testing.T) {
	ctx := newTestContext(t, nil)
	pub, sub := matchedPair(t, ctx)
	defer func() { require.NoError(t, pub.Fini()) }()

	event, err := NewSubscriptionEvent(sub, transport.SubscriptionMatched)
	require.NoError(t, err)

	var mu sync.Mutex
	var calls []int
	var datums []any
	err = event.SetCallback(func(userData any, pending int) {
		mu.Lock()
		calls = append(calls, pending)
		datums = append(datums, userData)
		mu.Unlock()
	}, "ctx-data")
	require.NoError(t, err)

	// The pre-registration match replays synchronously.
	mu.Lock()
	require.Len(t, calls, 1)
	assert.GreaterOrEqual(t, calls[0], 1)
	assert.Equal(t, "ctx-data", datums[0])
	mu.Unlock()

	// A live occurrence invokes the callback again.
	node := pub.node
	pub2, err := NewPublisher(node, "chatter", "std_msgs/String", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, pub2.Fini()) }()

	mu.Lock()
	assert.Len(t, calls, 2)
	mu.Unlock()

	// Unregister; further occurrences stay silent.
	require.NoError(t, event.SetCallback(nil, nil))
	pub3, err := NewPublisher(node, "chatter", "std_msgs/String", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, pub3.Fini()) }()

	mu.Lock()
	assert.Len(t, calls, 2)
	mu.Unlock()

	require.NoError(t, event.Fini())
	require.NoError(t, sub.Fini())
}

func TestEventKindHostMismatch(t *testing.T) {
	ctx := newTestContext(t, nil)
	pub, sub := matchedPair(t, ctx)
	defer func() {
		require.NoError(t, pub.Fini())
		require.NoError(t, sub.Fini())
	}()

	_, err := NewPublisherEvent(pub, transport.SubscriptionMatched)
	assert.ErrorIs(t, err, rterr.ErrInvalidArgument)
	_, err = NewPublisherEvent(pub, transport.EventInvalid)
	assert.ErrorIs(t, err, rterr.ErrInvalidArgument)
	_, err = NewSubscriptionEvent(sub, transport.PublisherLivelinessLost)
	assert.ErrorIs(t, err, rterr.ErrInvalidArgument)
	_, err = NewSubscriptionEvent(sub, transport.EventInvalid)
	assert.ErrorIs(t, err, rterr.ErrInvalidArgument)

	_, err = NewPublisherEvent(nil, transport.PublisherMatched)
	assert.ErrorIs(t, err, rterr.ErrInvalidArgument)
	_, err = NewSubscriptionEvent(nil, transport.SubscriptionMatched)
	assert.ErrorIs(t, err, rterr.ErrInvalidArgument)
}

func TestEventUnsupportedKind(t *testing.T) {
	broker := memtransport.New(memtransport.Options{
		Unsupported: []transport.EventKind{transport.PublisherLivelinessLost},
	})
	ctx := newTestContext(t, &ContextConfig{Transport: broker})

	node, err := NewNode(ctx, "n", "/", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, node.Fini()) }()

	pub, err := NewPublisher(node, "chatter", "std_msgs/String", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, pub.Fini()) }()

	_, err = NewPublisherEvent(pub, transport.PublisherLivelinessLost)
	assert.ErrorIs(t, err, rterr.ErrUnsupported)

	// A supported kind on the same publisher still works, and the failed
	// create left no event registered.
	event, err := NewPublisherEvent(pub, transport.PublisherMatched)
	require.NoError(t, err)
	require.NoError(t, event.Fini())
}

func TestEventValidityAndFini(t *testing.T) {
	ctx := newTestContext(t, nil)
	pub, sub := matchedPair(t, ctx)
	defer func() { require.NoError(t, sub.Fini()) }()

	event, err := NewPublisherEvent(pub, transport.PublisherMatched)
	require.NoError(t, err)
	assert.True(t, event.IsValid())
	assert.NotNil(t, event.Handle())

	require.NoError(t, event.Fini())
	require.NoError(t, event.Fini(), "fini must be idempotent")

	assert.False(t, event.IsValid())
	assert.Nil(t, event.Handle())
	_, err = event.Kind()
	assert.ErrorIs(t, err, rterr.ErrEventInvalid)
	_, err = event.Take()
	assert.ErrorIs(t, err, rterr.ErrEventInvalid)
	err = event.SetCallback(func(any, int) {}, nil)
	assert.ErrorIs(t, err, rterr.ErrEventInvalid)

	var zero StatusEvent
	assert.False(t, zero.IsValid())
	assert.NoError(t, zero.Fini())
	assert.False(t, (*StatusEvent)(nil).IsValid())

	require.NoError(t, pub.Fini())
}

func TestEventCounterConservationUnderConcurrentTakes(t *testing.T) {
	ctx := newTestContext(t, nil)

	node, err := NewNode(ctx, "n", "/ns", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, node.Fini()) }()

	sub, err := NewSubscription(node, "chatter", "std_msgs/String", nil)
	require.NoError(t, err)

	event, err := NewSubscriptionEvent(sub, transport.SubscriptionMatched)
	require.NoError(t, err)

	const peers = 20
	var wg sync.WaitGroup
	pubs := make([]*Publisher, peers)
	wg.Add(peers)
	for i := 0; i < peers; i++ {
		go func(i int) {
			defer wg.Done()
			p, err := NewPublisher(node, "chatter", "std_msgs/String", nil)
			assert.NoError(t, err)
			pubs[i] = p
		}(i)
	}

	// Take concurrently with delivery; no occurrence may be lost or
	// double-counted across the drained snapshots.
	sumChange := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()
	for {
		status, err := event.Take()
		require.NoError(t, err)
		sumChange += status.Matched().TotalCountChange
		select {
		case <-done:
		default:
			continue
		}
		break
	}
	// Final drain after all deliveries settled.
	status, err := event.Take()
	require.NoError(t, err)
	sumChange += status.Matched().TotalCountChange

	assert.Equal(t, peers, sumChange)
	assert.Equal(t, peers, status.Matched().TotalCount)

	require.NoError(t, event.Fini())
	require.NoError(t, sub.Fini())
	for _, p := range pubs {
		require.NoError(t, p.Fini())
	}
}
