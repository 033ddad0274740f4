package grpctransport

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Config holds configuration for the gRPC transport.
type Config struct {
	// NodeID uniquely identifies this process on the mesh. Two peers with
	// the same ID refuse to connect to each other.
	NodeID string

	// ListenAddress is the TCP address the transport serves on. Use
	// "localhost:0" to let the OS pick a port.
	ListenAddress string

	// Peers lists addresses to dial and keep connected. Inbound peers
	// not on the list are accepted too.
	Peers []string

	SendQueueSize     int
	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration
	MaxMessageSize    int

	Clock  clock.Clock
	Logger *logrus.Logger
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("node ID cannot be empty")
	}
	if c.ListenAddress == "" {
		return errors.New("listen address cannot be empty")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 100
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 2 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1024 * 1024 // 1MB
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}
