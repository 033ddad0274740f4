package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commcore/commcore-go/pkg/qos"
	"github.com/commcore/commcore-go/pkg/rterr"
	"github.com/commcore/commcore-go/pkg/transport"
)

type failingAllocator struct{}

func (failingAllocator) Allocate(int) []byte { return nil }
func (failingAllocator) Release([]byte)      {}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	ctx := newTestContext(t, nil)

	node, err := NewNode(ctx, "talker", "/ns", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, node.Fini()) }()

	pub, err := NewPublisher(node, "chatter", "std_msgs/String", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, pub.Fini()) }()

	sub, err := NewSubscription(node, "chatter", "std_msgs/String", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, sub.Fini()) }()

	pubTopic, err := pub.TopicName()
	require.NoError(t, err)
	assert.Equal(t, "/ns/chatter", pubTopic)

	subTopic, err := sub.TopicName()
	require.NoError(t, err)
	assert.Equal(t, pubTopic, subTopic)

	// Nothing queued yet.
	_, ok, err := sub.Take()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, pub.Publish([]byte("hello")))

	payload, ok, err := sub.Take()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), payload)

	_, ok, err = sub.Take()
	require.NoError(t, err)
	assert.False(t, ok, "queue must be empty after the take")
}

func TestTopicExpansion(t *testing.T) {
	ctx := newTestContext(t, nil)

	node, err := NewNode(ctx, "camera", "/robot", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, node.Fini()) }()

	private, err := NewPublisher(node, "~/status", "std_msgs/String", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, private.Fini()) }()

	topic, err := private.TopicName()
	require.NoError(t, err)
	assert.Equal(t, "/robot/camera/status", topic)

	absolute, err := NewSubscription(node, "/global/clock", "std_msgs/Time", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, absolute.Fini()) }()

	topic, err = absolute.TopicName()
	require.NoError(t, err)
	assert.Equal(t, "/global/clock", topic)
}

func TestEndpointCreationFailures(t *testing.T) {
	ctx := newTestContext(t, nil)

	node, err := NewNode(ctx, "n", "/", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, node.Fini()) }()

	_, err = NewPublisher(nil, "chatter", "std_msgs/String", nil)
	assert.ErrorIs(t, err, rterr.ErrInvalidArgument)

	_, err = NewPublisher(node, "", "std_msgs/String", nil)
	assert.ErrorIs(t, err, rterr.ErrInvalidName)

	_, err = NewPublisher(node, "chatter", "", nil)
	assert.ErrorIs(t, err, rterr.ErrInvalidArgument)

	_, err = NewSubscription(node, "bad topic", "std_msgs/String", nil)
	assert.ErrorIs(t, err, rterr.ErrInvalidName)
}

func TestPublishBadAlloc(t *testing.T) {
	ctx := newTestContext(t, nil)

	opts := &NodeOptions{Allocator: failingAllocator{}}
	node, err := NewNode(ctx, "n", "/", opts)
	require.NoError(t, err)
	defer func() { require.NoError(t, node.Fini()) }()

	pub, err := NewPublisher(node, "chatter", "std_msgs/String", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, pub.Fini()) }()

	err = pub.Publish([]byte("payload"))
	assert.ErrorIs(t, err, rterr.ErrBadAlloc)

	// The failure must be recoverable: the publisher stays usable.
	assert.True(t, pub.IsValid())
	assert.NoError(t, pub.AssertLiveliness())
}

func TestEndpointFiniOrderWithEvents(t *testing.T) {
	ctx := newTestContext(t, nil)

	node, err := NewNode(ctx, "n", "/", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, node.Fini()) }()

	pub, err := NewPublisher(node, "chatter", "std_msgs/String", nil)
	require.NoError(t, err)

	event, err := NewPublisherEvent(pub, transport.PublisherMatched)
	require.NoError(t, err)

	err = pub.Fini()
	assert.ErrorIs(t, err, rterr.ErrInvalidArgument, "fini with a live event must fail")
	assert.True(t, pub.IsValid(), "failed fini must leave the publisher live")

	require.NoError(t, event.Fini())
	require.NoError(t, pub.Fini())
	require.NoError(t, pub.Fini(), "fini must be idempotent")
}

func TestEndpointAccessorsAfterFini(t *testing.T) {
	ctx := newTestContext(t, nil)

	node, err := NewNode(ctx, "n", "/", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, node.Fini()) }()

	sub, err := NewSubscription(node, "chatter", "std_msgs/String", nil)
	require.NoError(t, err)
	require.NoError(t, sub.Fini())

	assert.False(t, sub.IsValid())
	assert.Nil(t, sub.Handle())

	_, err = sub.TopicName()
	assert.ErrorIs(t, err, rterr.ErrSubscriptionInvalid)
	_, _, err = sub.Take()
	assert.ErrorIs(t, err, rterr.ErrSubscriptionInvalid)
	_, err = sub.Profile()
	assert.ErrorIs(t, err, rterr.ErrSubscriptionInvalid)

	var zeroPub Publisher
	assert.False(t, zeroPub.IsValid())
	assert.NoError(t, zeroPub.Fini())
	err = zeroPub.Publish([]byte("x"))
	assert.ErrorIs(t, err, rterr.ErrPublisherInvalid)
}

func TestEndpointProfileFixedAtCreation(t *testing.T) {
	ctx := newTestContext(t, nil)

	node, err := NewNode(ctx, "n", "/", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, node.Fini()) }()

	profile := qos.Profile{
		History:     qos.HistoryKeepLast,
		Depth:       3,
		Reliability: qos.ReliabilityBestEffort,
		Durability:  qos.DurabilityVolatile,
		Liveliness:  qos.LivelinessAutomatic,
	}
	pub, err := NewPublisher(node, "chatter", "std_msgs/String", &profile)
	require.NoError(t, err)
	defer func() { require.NoError(t, pub.Fini()) }()

	got, err := pub.Profile()
	require.NoError(t, err)
	assert.Equal(t, profile, got)

	// Mutating the caller's copy afterwards must not affect the endpoint.
	profile.Depth = 99
	got, err = pub.Profile()
	require.NoError(t, err)
	assert.Equal(t, 3, got.Depth)
}
