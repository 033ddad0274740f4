package core

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/commcore/commcore-go/pkg/qos"
	"github.com/commcore/commcore-go/pkg/rterr"
)

// NodeOptions holds per-node configuration.
type NodeOptions struct {
	// Allocator overrides the context's allocator for endpoints created
	// from this node.
	Allocator Allocator

	// DiagnosticsQoS is the profile used for the node's internal
	// diagnostics publisher.
	DiagnosticsQoS qos.Profile

	// UseGlobalArguments controls whether process-wide remap arguments
	// apply to this node in addition to node-specific ones.
	UseGlobalArguments bool
}

// Validate checks if the options are valid.
func (o *NodeOptions) Validate() error {
	if o.DiagnosticsQoS.Depth < 0 {
		return fmt.Errorf("%w: diagnostics QoS depth %d is negative", rterr.ErrInvalidArgument, o.DiagnosticsQoS.Depth)
	}
	return nil
}

// SetDefaults sets sensible default values for unset option fields.
func (o *NodeOptions) SetDefaults() {
	if o.Allocator == nil {
		o.Allocator = DefaultAllocator()
	}
	if o.DiagnosticsQoS == (qos.Profile{}) {
		o.DiagnosticsQoS = qos.DiagnosticsProfile()
	}
}

// Node is a named endpoint factory bound to a context. It owns a graph
// guard condition that fires whenever the set of discoverable endpoints
// changes. A node stays finalizable after its context shuts down; only
// ordinary operations require the context to still be running.
type Node struct {
	mu    sync.Mutex
	state State

	ctx       *Context
	name      string
	namespace string
	fqn       string
	logName   string
	domainID  int
	opts      NodeOptions

	graphGuard       *GuardCondition
	cancelGraphWatch func()
	log              *logrus.Entry
}

// NewNode initializes a node against a running context. Name and namespace
// must satisfy the naming grammar; the namespace is normalized (empty and
// "/" both mean the root, a missing leading slash is added). On any failure
// nothing is registered with the context or transport.
func NewNode(ctx *Context, name, namespace string, opts *NodeOptions) (*Node, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: context is nil", rterr.ErrInvalidArgument)
	}
	if !ctx.IsValid() {
		return nil, fmt.Errorf("%w: cannot create node", rterr.ErrContextInvalid)
	}
	if err := ValidateNodeName(name); err != nil {
		return nil, err
	}
	normalized, err := NormalizeNamespace(namespace)
	if err != nil {
		return nil, err
	}

	var options NodeOptions
	if opts != nil {
		options = *opts
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}
	options.SetDefaults()

	fqn := fullyQualifiedName(normalized, name)
	resolved, err := ctx.resolver.Resolve(fqn, normalized)
	if err != nil {
		return nil, fmt.Errorf("resolving node name %q: %w", fqn, err)
	}

	domainID, err := ctx.DomainID()
	if err != nil {
		return nil, err
	}
	if err := ctx.attachNode(); err != nil {
		return nil, err
	}

	node := &Node{
		state:      StateLive,
		ctx:        ctx,
		name:       name,
		namespace:  normalized,
		fqn:        resolved,
		logName:    loggerName(resolved),
		domainID:   domainID,
		opts:       options,
		graphGuard: newGuardCondition(),
	}
	node.log = ctx.log.WithField("logger", node.logName)
	node.cancelGraphWatch = ctx.transportRef().WatchGraph(func() {
		// Graph deliveries can race node fini; a trigger on a
		// finalized guard is a no-op error we do not care about.
		_ = node.graphGuard.Trigger()
	})
	return node, nil
}

// IsValid reports whether the node is live and its context still running.
// Allocation-free.
func (n *Node) IsValid() bool {
	if n == nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == StateLive && n.ctx.IsValid()
}

// ValidExceptContext reports whether the node itself is live, regardless of
// whether its context has been shut down. Teardown code uses this to
// finalize nodes after context shutdown.
func (n *Node) ValidExceptContext() bool {
	if n == nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == StateLive
}

// Name returns the declared node name.
func (n *Node) Name() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateLive {
		return "", fmt.Errorf("%w: node is %s", rterr.ErrNodeInvalid, n.state)
	}
	return n.name, nil
}

// Namespace returns the normalized namespace.
func (n *Node) Namespace() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateLive {
		return "", fmt.Errorf("%w: node is %s", rterr.ErrNodeInvalid, n.state)
	}
	return n.namespace, nil
}

// FullyQualifiedName returns the namespace-prefixed, remapped node name.
func (n *Node) FullyQualifiedName() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateLive {
		return "", fmt.Errorf("%w: node is %s", rterr.ErrNodeInvalid, n.state)
	}
	return n.fqn, nil
}

// LoggerName returns the dotted logger name derived from the
// fully-qualified name.
func (n *Node) LoggerName() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateLive {
		return "", fmt.Errorf("%w: node is %s", rterr.ErrNodeInvalid, n.state)
	}
	return n.logName, nil
}

// Logger returns the node's log entry, keyed by logger name.
func (n *Node) Logger() (*logrus.Entry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateLive {
		return nil, fmt.Errorf("%w: node is %s", rterr.ErrNodeInvalid, n.state)
	}
	return n.log, nil
}

// Options returns the options the node was created with.
func (n *Node) Options() (NodeOptions, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateLive {
		return NodeOptions{}, fmt.Errorf("%w: node is %s", rterr.ErrNodeInvalid, n.state)
	}
	return n.opts, nil
}

// DomainID returns the domain identifier of the owning context, captured at
// node creation.
func (n *Node) DomainID() (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateLive {
		return 0, fmt.Errorf("%w: node is %s", rterr.ErrNodeInvalid, n.state)
	}
	return n.domainID, nil
}

// GraphGuard returns the guard condition fired on discovery graph changes.
// The node owns it exclusively; callers add it to wait sets but must not
// finalize it.
func (n *Node) GraphGuard() (*GuardCondition, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateLive {
		return nil, fmt.Errorf("%w: node is %s", rterr.ErrNodeInvalid, n.state)
	}
	return n.graphGuard, nil
}

// TopicNamesAndTypes returns the topics currently visible in the discovery
// graph along with their message type names.
func (n *Node) TopicNamesAndTypes() (map[string]string, error) {
	if !n.IsValid() {
		return nil, fmt.Errorf("%w: cannot query graph", rterr.ErrNodeInvalid)
	}
	return n.ctx.transportRef().TopicNamesAndTypes(), nil
}

// CountPublishers returns the number of publishers on topic.
func (n *Node) CountPublishers(topic string) (int, error) {
	if !n.IsValid() {
		return 0, fmt.Errorf("%w: cannot query graph", rterr.ErrNodeInvalid)
	}
	return n.ctx.transportRef().CountPublishers(topic)
}

// CountSubscriptions returns the number of subscriptions on topic.
func (n *Node) CountSubscriptions(topic string) (int, error) {
	if !n.IsValid() {
		return 0, fmt.Errorf("%w: cannot query graph", rterr.ErrNodeInvalid)
	}
	return n.ctx.transportRef().CountSubscriptions(topic)
}

// Fini finalizes the node. It succeeds even after the owning context has
// been shut down; finalizing a zero or already finalized node succeeds
// silently.
func (n *Node) Fini() error {
	if n == nil {
		return nil
	}
	n.mu.Lock()
	if n.state != StateLive {
		n.mu.Unlock()
		return nil
	}
	n.state = StateFinalized
	cancel := n.cancelGraphWatch
	guard := n.graphGuard
	ctx := n.ctx
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := guard.Fini(); err != nil {
		return err
	}
	ctx.detachNode()
	return nil
}
