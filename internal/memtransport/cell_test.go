package memtransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commcore/commcore-go/pkg/qos"
	"github.com/commcore/commcore-go/pkg/transport"
)

func TestStatusCellTakeResetsOnlyChanges(t *testing.T) {
	c := newStatusCell(transport.SubscriptionMatched)
	assert.False(t, c.Ready())

	c.record(1, 1, qos.PolicyInvalid)
	c.record(1, 1, qos.PolicyInvalid)
	assert.True(t, c.Ready())

	st := c.TakeStatus()
	assert.Equal(t, transport.SubscriptionMatched, st.Kind)
	assert.Equal(t, 2, st.TotalCount)
	assert.Equal(t, 2, st.TotalCountChange)
	assert.Equal(t, 2, st.CurrentCount)
	assert.False(t, c.Ready())

	st = c.TakeStatus()
	assert.Equal(t, 2, st.TotalCount)
	assert.Zero(t, st.TotalCountChange)
	assert.Zero(t, st.CurrentCountChange)

	c.record(0, -1, qos.PolicyInvalid)
	st = c.TakeStatus()
	assert.Equal(t, 2, st.TotalCount)
	assert.Equal(t, 1, st.CurrentCount)
	assert.Equal(t, -1, st.CurrentCountChange)
}

func TestStatusCellLastPolicySticks(t *testing.T) {
	c := newStatusCell(transport.SubscriptionRequestedIncompatibleQoS)

	c.record(1, 0, qos.PolicyReliability)
	assert.Equal(t, qos.PolicyReliability, c.TakeStatus().LastPolicyKind)

	// The last policy survives takes until a new verdict replaces it.
	assert.Equal(t, qos.PolicyReliability, c.TakeStatus().LastPolicyKind)
	c.record(1, 0, qos.PolicyDeadline)
	assert.Equal(t, qos.PolicyDeadline, c.TakeStatus().LastPolicyKind)
}

func TestStatusCellListenerAndPending(t *testing.T) {
	c := newStatusCell(transport.PublisherMatched)

	c.record(1, 1, qos.PolicyInvalid)
	c.record(1, 1, qos.PolicyInvalid)

	var calls []int
	pending := c.SetListener(func(p int) { calls = append(calls, p) })
	assert.Equal(t, 2, pending, "occurrences before registration are pending")

	c.record(1, 1, qos.PolicyInvalid)
	assert.Equal(t, []int{3}, calls)

	c.TakeStatus()
	c.record(1, 1, qos.PolicyInvalid)
	assert.Equal(t, []int{3, 1}, calls, "a take resets the pending count")

	require.NoError(t, c.Close())
	c.record(1, 1, qos.PolicyInvalid)
	assert.Equal(t, []int{3, 1}, calls, "a closed cell keeps counting but stops notifying")
	assert.Equal(t, 6, c.TakeStatus().TotalCount)
}

func TestStatusCellWatchers(t *testing.T) {
	c := newStatusCell(transport.PublisherMatched)

	ch := make(chan struct{}, 1)
	c.Attach(ch)
	c.record(1, 1, qos.PolicyInvalid)
	select {
	case <-ch:
	default:
		t.Fatal("expected a wakeup after record")
	}

	c.Detach(ch)
	c.record(1, 1, qos.PolicyInvalid)
	select {
	case <-ch:
		t.Fatal("detached watcher must not be woken")
	default:
	}
}
