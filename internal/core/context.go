package core

import (
	"fmt"
	"os"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/commcore/commcore-go/internal/memtransport"
	"github.com/commcore/commcore-go/pkg/rterr"
	"github.com/commcore/commcore-go/pkg/transport"
)

// ContextConfig holds configuration for a Context. The zero value is
// usable: SetDefaults fills in an in-process transport, the wall clock, the
// standard logger, and the process environment.
type ContextConfig struct {
	// DomainID partitions discovery; nodes only see peers in the same
	// domain. The transport receives it through topic scoping.
	DomainID int

	// Transport is the middleware transport endpoints are created
	// through. When nil a new in-process transport is created and owned
	// (and closed) by the context.
	Transport transport.Transport

	// Clock drives deadlines, lifespans, liveliness leases, and wait
	// timeouts. Tests inject clock.NewMock().
	Clock clock.Clock

	// Logger is the root logger; nodes derive child entries from it.
	Logger *logrus.Logger

	// EnvLookup is the process-wide key/value store behind boolean
	// feature toggles. Tests inject maps for isolation.
	EnvLookup func(key string) (string, bool)

	// Resolver applies name remapping rules.
	Resolver NameResolver

	// Allocator stages payload buffers. Must be non-nil after
	// SetDefaults; a nil allocator fails context creation.
	Allocator Allocator
}

// Validate checks if the configuration is valid.
func (c *ContextConfig) Validate() error {
	if c.DomainID < 0 {
		return fmt.Errorf("%w: domain ID %d is negative", rterr.ErrInvalidArgument, c.DomainID)
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields.
func (c *ContextConfig) SetDefaults() {
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Transport == nil {
		c.Transport = memtransport.New(memtransport.Options{Clock: c.Clock})
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.EnvLookup == nil {
		c.EnvLookup = os.LookupEnv
	}
	if c.Resolver == nil {
		c.Resolver = DefaultNameResolver()
	}
	if c.Allocator == nil {
		c.Allocator = DefaultAllocator()
	}
}

// Context is the process-wide init/shutdown state every node hangs off.
// Shutdown is one-way: once a context is shut down it never runs again, and
// any wait referencing it returns promptly. Independent contexts can
// coexist in one process; nothing here is ambient global state.
type Context struct {
	mu    sync.Mutex
	state State
	down  bool

	instanceID uuid.UUID
	domainID   int

	tp            transport.Transport
	ownsTransport bool
	clk           clock.Clock
	log           *logrus.Entry
	envLookup     func(string) (string, bool)
	resolver      NameResolver
	alloc         Allocator

	shutdownGuard *GuardCondition
	liveNodes     int
}

// NewContext initializes a context from config. A nil config means
// defaults. On any failure the returned context is nil and nothing is
// partially initialized.
func NewContext(config *ContextConfig) (*Context, error) {
	var cfg ContextConfig
	if config != nil {
		cfg = *config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ownsTransport := cfg.Transport == nil
	cfg.SetDefaults()
	if cfg.Allocator == nil {
		return nil, fmt.Errorf("%w: allocator is nil", rterr.ErrInvalidArgument)
	}

	id := uuid.New()
	return &Context{
		state:         StateLive,
		instanceID:    id,
		domainID:      cfg.DomainID,
		tp:            cfg.Transport,
		ownsTransport: ownsTransport,
		clk:           cfg.Clock,
		log:           cfg.Logger.WithField("context", id.String()[:8]),
		envLookup:     cfg.EnvLookup,
		resolver:      cfg.Resolver,
		alloc:         cfg.Allocator,
		shutdownGuard: newGuardCondition(),
	}, nil
}

// IsValid reports whether the context is initialized and still running.
// Allocation-free.
func (c *Context) IsValid() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateLive && !c.down
}

// InstanceID returns the unique identifier of this context instance.
func (c *Context) InstanceID() (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLive {
		return uuid.UUID{}, fmt.Errorf("%w: context is %s", rterr.ErrContextInvalid, c.state)
	}
	return c.instanceID, nil
}

// DomainID returns the domain identifier the context was created with.
// Usable until the context is finalized, including after shutdown.
func (c *Context) DomainID() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLive {
		return 0, fmt.Errorf("%w: context is %s", rterr.ErrContextInvalid, c.state)
	}
	return c.domainID, nil
}

// ShutdownGuard returns the guard condition triggered by Shutdown. Wait
// sets bound to this context watch it implicitly.
func (c *Context) ShutdownGuard() (*GuardCondition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLive {
		return nil, fmt.Errorf("%w: context is %s", rterr.ErrContextInvalid, c.state)
	}
	return c.shutdownGuard, nil
}

// Shutdown stops the context. Idempotent; the first call triggers the
// shutdown guard so in-flight waits return promptly. Nodes remain
// finalizable afterwards.
func (c *Context) Shutdown() error {
	c.mu.Lock()
	if c.state != StateLive {
		c.mu.Unlock()
		return fmt.Errorf("%w: context is %s", rterr.ErrContextInvalid, c.state)
	}
	if c.down {
		c.mu.Unlock()
		return nil
	}
	c.down = true
	guard := c.shutdownGuard
	c.mu.Unlock()

	return guard.Trigger()
}

// Fini finalizes the context. The context must be shut down first and must
// have no live nodes. Finalizing a zero or already finalized context
// succeeds silently.
func (c *Context) Fini() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	if c.state != StateLive {
		c.mu.Unlock()
		return nil
	}
	if !c.down {
		c.mu.Unlock()
		return fmt.Errorf("%w: context must be shut down before fini", rterr.ErrInvalidArgument)
	}
	if c.liveNodes > 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: context still has %d live nodes", rterr.ErrInvalidArgument, c.liveNodes)
	}
	c.state = StateFinalized
	tp := c.tp
	owns := c.ownsTransport
	c.mu.Unlock()

	if err := c.shutdownGuard.Fini(); err != nil {
		return err
	}
	if owns {
		if err := tp.Close(); err != nil {
			c.log.WithError(err).Warn("transport close failed during context fini")
			return fmt.Errorf("transport close: %w", err)
		}
	}
	return nil
}

func (c *Context) attachNode() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLive || c.down {
		return fmt.Errorf("%w: context is not running", rterr.ErrContextInvalid)
	}
	c.liveNodes++
	return nil
}

func (c *Context) detachNode() {
	c.mu.Lock()
	if c.liveNodes > 0 {
		c.liveNodes--
	}
	c.mu.Unlock()
}

// transportRef returns the transport without a validity check; callers
// already hold a live resource derived from this context.
func (c *Context) transportRef() transport.Transport { return c.tp }
