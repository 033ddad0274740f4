package memtransport

import (
	"sync"
	"sync/atomic"

	"github.com/commcore/commcore-go/pkg/qos"
	"github.com/commcore/commcore-go/pkg/transport"
)

// statusCell is the raw counter store behind one event kind on one
// endpoint. Cells exist for every kind from endpoint creation, so
// occurrences that land before the caller creates the StatusEvent are not
// lost: the first take or listener registration sees them as pending.
//
// TotalCount is monotonic for the counted kinds. The liveliness-changed
// kind maps alive counts onto the current fields and not-alive counts onto
// the total fields, and those levels move both ways.
type statusCell struct {
	mu   sync.Mutex
	kind transport.EventKind

	total, totalChange     int
	current, currentChange int
	lastPolicy             qos.PolicyKind
	pending                int

	listener func(pending int)
	watchers []chan<- struct{}

	changed atomic.Bool
}

func newStatusCell(kind transport.EventKind) *statusCell {
	return &statusCell{kind: kind}
}

// record applies one occurrence: deltaTotal on the total counters,
// deltaCurrent on the level counters, and policy (when not PolicyInvalid)
// as the last incompatible policy. Watchers and the listener are notified
// outside the cell lock.
func (c *statusCell) record(deltaTotal, deltaCurrent int, policy qos.PolicyKind) {
	c.mu.Lock()
	c.total += deltaTotal
	c.totalChange += deltaTotal
	c.current += deltaCurrent
	c.currentChange += deltaCurrent
	if policy != qos.PolicyInvalid {
		c.lastPolicy = policy
	}
	c.pending++
	c.changed.Store(true)
	listener := c.listener
	pending := c.pending
	watchers := append([]chan<- struct{}(nil), c.watchers...)
	c.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	if listener != nil {
		listener(pending)
	}
}

// Ready implements transport.Waitable: the counters changed since the last
// TakeStatus. Allocation-free.
func (c *statusCell) Ready() bool { return c.changed.Load() }

// Attach implements transport.Waitable.
func (c *statusCell) Attach(ch chan<- struct{}) {
	c.mu.Lock()
	c.watchers = append(c.watchers, ch)
	c.mu.Unlock()
}

// Detach implements transport.Waitable.
func (c *statusCell) Detach(ch chan<- struct{}) {
	c.mu.Lock()
	for i, w := range c.watchers {
		if w == ch {
			c.watchers = append(c.watchers[:i], c.watchers[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

// TakeStatus implements transport.EventHandle: snapshot the counters and
// reset only the change fields, atomically with respect to record.
func (c *statusCell) TakeStatus() transport.EventStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := transport.EventStatus{
		Kind:               c.kind,
		TotalCount:         c.total,
		TotalCountChange:   c.totalChange,
		CurrentCount:       c.current,
		CurrentCountChange: c.currentChange,
		LastPolicyKind:     c.lastPolicy,
	}
	c.totalChange = 0
	c.currentChange = 0
	c.pending = 0
	c.changed.Store(false)
	return status
}

// SetListener implements transport.EventHandle.
func (c *statusCell) SetListener(fn func(pending int)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = fn
	return c.pending
}

// Close implements transport.EventHandle. The cell keeps counting for the
// endpoint's lifetime; Close only detaches listeners and watchers.
func (c *statusCell) Close() error {
	c.mu.Lock()
	c.listener = nil
	c.watchers = nil
	c.mu.Unlock()
	return nil
}

var _ transport.EventHandle = (*statusCell)(nil)
