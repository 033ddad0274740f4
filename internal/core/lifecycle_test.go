package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commcore/commcore-go/pkg/rterr"
	"github.com/commcore/commcore-go/pkg/transport"
)

// TestRuntimeLifecycle walks the whole stack through one session: init,
// endpoint matching, event-driven wait loop, ordered teardown.
func TestRuntimeLifecycle(t *testing.T) {
	ctx, err := NewContext(&ContextConfig{DomainID: 42})
	require.NoError(t, err)

	node, err := NewNode(ctx, "talker", "/demo", nil)
	require.NoError(t, err)

	pub, err := NewPublisher(node, "~/out", "std_msgs/String", nil)
	require.NoError(t, err)
	sub, err := NewSubscription(node, "/demo/talker/out", "std_msgs/String", nil)
	require.NoError(t, err)

	matched, err := NewSubscriptionEvent(sub, transport.SubscriptionMatched)
	require.NoError(t, err)

	ws, err := NewWaitSet(ctx, Capacities{Subscriptions: 1, Events: 1})
	require.NoError(t, err)

	// First cycle: the match occurrence is already pending.
	require.NoError(t, ws.AddSubscription(sub))
	require.NoError(t, ws.AddEvent(matched))
	require.NoError(t, ws.Wait(time.Second))
	require.Same(t, matched, ws.ReadyEvent(0))

	status, err := matched.Take()
	require.NoError(t, err)
	assert.Equal(t, 1, status.Matched().CurrentCount)

	// Second cycle: data arrives while blocked.
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = pub.Publish([]byte("ping"))
	}()
	require.NoError(t, ws.Clear())
	require.NoError(t, ws.AddSubscription(sub))
	require.NoError(t, ws.AddEvent(matched))
	require.NoError(t, ws.Wait(-1))
	require.Same(t, sub, ws.ReadySubscription(0))

	payload, ok, err := sub.Take()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("ping"), payload)

	// Shutdown invalidates derived entities but leaves them finalizable.
	require.NoError(t, ctx.Shutdown())
	assert.False(t, node.IsValid())
	assert.True(t, node.ValidExceptContext())
	assert.False(t, pub.IsValid())

	err = pub.Publish([]byte("late"))
	assert.NoError(t, err, "transport stays reachable until the context is finalized")

	// Teardown in dependency order.
	assert.ErrorIs(t, ctx.Fini(), rterr.ErrInvalidArgument, "nodes must go first")
	require.NoError(t, ws.Fini())
	require.NoError(t, matched.Fini())
	require.NoError(t, sub.Fini())
	require.NoError(t, pub.Fini())
	require.NoError(t, node.Fini())
	require.NoError(t, ctx.Fini())
	require.NoError(t, ctx.Fini(), "fini must be idempotent")
}
