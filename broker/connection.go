package broker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/confbus/confbus/core"
)

// Connection owns the bus handle shared by the producer gateway and the
// consumer loop. Connect is idempotent; Close is idempotent and bounded by
// the close grace period, so shutdown never waits indefinitely on broker
// acknowledgment.
type Connection struct {
	settings Settings
	log      *zap.Logger

	mu     sync.Mutex
	bus    core.Bus
	closed bool
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithLogger sets the connection logger.
func WithLogger(log *zap.Logger) ConnectionOption {
	return func(c *Connection) {
		if log != nil {
			c.log = log
		}
	}
}

// NewConnection creates an unconnected Connection.
func NewConnection(s Settings, opts ...ConnectionOption) *Connection {
	c := &Connection{settings: s, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Settings returns the settings this connection was built from.
func (c *Connection) Settings() Settings { return c.settings }

// Enabled reports whether the broker subsystem is enabled.
func (c *Connection) Enabled() bool { return c.settings.Enabled }

// Connect creates the driver on first call and is a no-op afterwards. With a
// disabled broker it returns core.ErrBusDisabled without dialing anything.
func (c *Connection) Connect(ctx context.Context) error {
	if !c.settings.Enabled {
		return core.ErrBusDisabled
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrBusClosed
	}
	if c.bus != nil {
		return nil
	}
	bus, err := Create(c.settings.Driver, c.settings)
	if err != nil {
		return err
	}
	c.bus = bus
	c.log.Info("connected to broker",
		zap.String("driver", c.settings.Driver),
		zap.Strings("endpoints", c.settings.Endpoints))
	return nil
}

// Bus returns the driver handle, or nil when disabled or not yet connected.
func (c *Connection) Bus() core.Bus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bus
}

// Close shuts the driver down. Closing twice returns nil. The driver's Close
// runs under the close grace period; on overrun the handle is abandoned and
// core.ErrCloseTimeout returned, with a warning, so process exit is never
// blocked on broker acknowledgment.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	bus := c.bus
	c.bus = nil
	c.mu.Unlock()

	if bus == nil {
		return nil
	}

	grace := c.settings.CloseGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	done := make(chan error, 1)
	go func() { done <- bus.Close() }()

	select {
	case err := <-done:
		if err != nil {
			c.log.Warn("broker close reported error", zap.Error(err))
		}
		return err
	case <-time.After(grace):
		c.log.Warn("broker close abandoned after grace period",
			zap.Duration("grace", grace))
		return core.ErrCloseTimeout
	}
}
