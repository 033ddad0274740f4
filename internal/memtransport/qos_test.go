package memtransport

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commcore/commcore-go/pkg/qos"
	"github.com/commcore/commcore-go/pkg/transport"
)

func TestDeadlineMissedFiresPerPeriod(t *testing.T) {
	mock := clock.NewMock()
	b := New(Options{Clock: mock})

	prof := qos.DefaultProfile()
	prof.Deadline = 50 * time.Millisecond
	pub, sub := newPair(t, b, "/chatter", prof, prof)

	mock.Add(50 * time.Millisecond)
	assert.Equal(t, 1, pub.cells[transport.PublisherOfferedDeadlineMissed].TakeStatus().Counts().TotalCount)
	assert.Equal(t, 1, sub.cells[transport.SubscriptionRequestedDeadlineMissed].TakeStatus().Counts().TotalCount)

	// The timer re-arms after each miss.
	mock.Add(50 * time.Millisecond)
	st := pub.cells[transport.PublisherOfferedDeadlineMissed].TakeStatus().Counts()
	assert.Equal(t, 2, st.TotalCount)
	assert.Equal(t, 1, st.TotalCountChange)

	// A publish resets the period.
	mock.Add(25 * time.Millisecond)
	require.NoError(t, pub.Publish([]byte("x")))
	mock.Add(40 * time.Millisecond)
	assert.Zero(t, pub.cells[transport.PublisherOfferedDeadlineMissed].TakeStatus().Counts().TotalCountChange)
	mock.Add(10 * time.Millisecond)
	assert.Equal(t, 1, pub.cells[transport.PublisherOfferedDeadlineMissed].TakeStatus().Counts().TotalCountChange)

	require.NoError(t, pub.Close())
	require.NoError(t, sub.Close())
}

func TestLivelinessLeaseExpiryAndRevival(t *testing.T) {
	mock := clock.NewMock()
	b := New(Options{Clock: mock})

	offered := qos.DefaultProfile()
	offered.LeaseDuration = 100 * time.Millisecond
	pub, sub := newPair(t, b, "/chatter", offered, qos.DefaultProfile())

	// The match reports the publisher alive.
	lc := sub.cells[transport.SubscriptionLivelinessChanged].TakeStatus().LivelinessChanged()
	assert.Equal(t, 1, lc.AliveCount)
	assert.Zero(t, lc.NotAliveCount)

	mock.Add(100 * time.Millisecond)
	assert.Equal(t, 1, pub.cells[transport.PublisherLivelinessLost].TakeStatus().Counts().TotalCount)
	lc = sub.cells[transport.SubscriptionLivelinessChanged].TakeStatus().LivelinessChanged()
	assert.Zero(t, lc.AliveCount)
	assert.Equal(t, 1, lc.NotAliveCount)
	assert.Equal(t, -1, lc.AliveCountChange)

	// Asserting liveliness revives the publisher.
	require.NoError(t, pub.AssertLiveliness())
	lc = sub.cells[transport.SubscriptionLivelinessChanged].TakeStatus().LivelinessChanged()
	assert.Equal(t, 1, lc.AliveCount)
	assert.Zero(t, lc.NotAliveCount)

	// A publish also refreshes the lease: no second loss inside it.
	mock.Add(60 * time.Millisecond)
	require.NoError(t, pub.Publish([]byte("x")))
	mock.Add(60 * time.Millisecond)
	assert.Zero(t, pub.cells[transport.PublisherLivelinessLost].TakeStatus().Counts().TotalCountChange)
	mock.Add(40 * time.Millisecond)
	assert.Equal(t, 1, pub.cells[transport.PublisherLivelinessLost].TakeStatus().Counts().TotalCountChange)

	require.NoError(t, pub.Close())
	require.NoError(t, sub.Close())
}

func TestLifespanExpiresQueuedMessages(t *testing.T) {
	mock := clock.NewMock()
	b := New(Options{Clock: mock})

	prof := qos.DefaultProfile()
	prof.Lifespan = 100 * time.Millisecond
	pub, sub := newPair(t, b, "/chatter", prof, qos.DefaultProfile())

	require.NoError(t, pub.Publish([]byte("stale")))
	mock.Add(150 * time.Millisecond)
	require.NoError(t, pub.Publish([]byte("fresh")))

	assert.True(t, sub.Ready())
	payload, ok, err := sub.Take()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("fresh"), payload, "expired messages are discarded silently")

	_, ok, err = sub.Take()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, sub.Ready())

	require.NoError(t, pub.Close())
	require.NoError(t, sub.Close())
}

func TestQueueOverflowCountsLostMessages(t *testing.T) {
	b := New(Options{})

	subProf := qos.DefaultProfile()
	subProf.Depth = 2
	pub, sub := newPair(t, b, "/chatter", qos.DefaultProfile(), subProf)

	require.NoError(t, pub.Publish([]byte("a")))
	require.NoError(t, pub.Publish([]byte("b")))
	require.NoError(t, pub.Publish([]byte("c")))

	assert.Equal(t, 1, sub.cells[transport.SubscriptionMessageLost].TakeStatus().Counts().TotalCount)

	payload, ok, err := sub.Take()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), payload, "the oldest message is evicted")
	payload, ok, err = sub.Take()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("c"), payload)

	require.NoError(t, pub.Close())
	require.NoError(t, sub.Close())
}

func TestKeepAllQueueNeverOverflows(t *testing.T) {
	b := New(Options{})

	subProf := qos.DefaultProfile()
	subProf.History = qos.HistoryKeepAll
	subProf.Depth = 1
	pub, sub := newPair(t, b, "/chatter", qos.DefaultProfile(), subProf)

	for i := 0; i < 50; i++ {
		require.NoError(t, pub.Publish([]byte{byte(i)}))
	}
	assert.Zero(t, sub.cells[transport.SubscriptionMessageLost].TakeStatus().Counts().TotalCount)
	for i := 0; i < 50; i++ {
		payload, ok, err := sub.Take()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte{byte(i)}, payload)
	}

	require.NoError(t, pub.Close())
	require.NoError(t, sub.Close())
}

func TestTransientLocalReplaysHistory(t *testing.T) {
	b := New(Options{})

	pubProf := qos.DefaultProfile()
	pubProf.Durability = qos.DurabilityTransientLocal
	pubProf.Depth = 2
	ph, err := b.CreatePublisher("/chatter", "std_msgs/String", pubProf)
	require.NoError(t, err)
	pub := ph.(*memPublisher)

	require.NoError(t, pub.Publish([]byte("a")))
	require.NoError(t, pub.Publish([]byte("b")))
	require.NoError(t, pub.Publish([]byte("c")))

	subProf := qos.DefaultProfile()
	subProf.Durability = qos.DurabilityTransientLocal
	sh, err := b.CreateSubscription("/chatter", "std_msgs/String", subProf)
	require.NoError(t, err)
	sub := sh.(*memSubscription)

	// The late joiner sees the retained window, oldest first.
	payload, ok, err := sub.Take()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), payload)
	payload, ok, err = sub.Take()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("c"), payload)
	_, ok, err = sub.Take()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, pub.Close())
	require.NoError(t, sub.Close())
}
