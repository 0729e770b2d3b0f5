package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/confbus/confbus/codec"
)

// EnvelopeHandler processes a decoded envelope for one topic.
type EnvelopeHandler func(ctx context.Context, env *codec.Envelope) error

// Middleware wraps an EnvelopeHandler to add cross-cutting behavior.
type Middleware func(EnvelopeHandler) EnvelopeHandler

// Consumer timing defaults. The poll timeout bounds both broker latency per
// iteration and shutdown latency; the join timeout bounds how long Stop waits
// before abandoning the loop goroutines.
const (
	DefaultPollTimeout = 500 * time.Millisecond
	DefaultJoinTimeout = 5 * time.Second
)

// Consumer runs one background polling loop per subscribed topic and
// dispatches decoded envelopes to registered handlers.
//
// Fault isolation: a message that fails to decode is logged and skipped; a
// handler error or panic is logged and the loop continues. Nothing a single
// message does can terminate the loop or the process. Delivery to handlers is
// at-most-once: a message is committed after its dispatch attempt, successful
// or not.
//
// Shutdown: Stop closes the stop channel, which every loop checks once per
// iteration, then waits up to the join timeout. A loop stuck in a driver call
// is abandoned with a warning rather than blocking process exit.
type Consumer struct {
	bus         Bus
	pollTimeout time.Duration
	joinTimeout time.Duration
	log         *zap.Logger

	mu      sync.Mutex
	routes  map[string]EnvelopeHandler
	mws     []Middleware
	waiters map[string]chan *codec.Envelope
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithPollTimeout sets the per-iteration poll bound.
func WithPollTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}

// WithJoinTimeout sets how long Stop waits for the loops to exit.
func WithJoinTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.joinTimeout = d
		}
	}
}

// WithConsumerLogger sets the logger. Defaults to a no-op logger.
func WithConsumerLogger(log *zap.Logger) ConsumerOption {
	return func(c *Consumer) {
		if log != nil {
			c.log = log
		}
	}
}

// NewConsumer creates a Consumer on top of the given bus. A nil bus puts the
// consumer in disabled mode: Start creates no goroutines and Stop is a no-op.
func NewConsumer(bus Bus, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		bus:         bus,
		pollTimeout: DefaultPollTimeout,
		joinTimeout: DefaultJoinTimeout,
		log:         zap.NewNop(),
		routes:      make(map[string]EnvelopeHandler),
		waiters:     make(map[string]chan *codec.Envelope),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Use registers middleware applied to every topic handler. Middleware runs in
// registration order (first registered is outermost). Must be called before
// Start.
func (c *Consumer) Use(mw Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mws = append(c.mws, mw)
}

// Subscribe registers a handler for a topic. Must be called before Start.
func (c *Consumer) Subscribe(topic string, h EnvelopeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[topic] = h
}

// Expect registers a one-shot waiter for the given correlation id. Envelopes
// matching a registered id are delivered to the returned channel instead of
// the topic handler. The caller must Cancel the id when done; responses
// arriving after Cancel are discarded as stale.
func (c *Consumer) Expect(correlationID string) <-chan *codec.Envelope {
	ch := make(chan *codec.Envelope, 4)
	c.mu.Lock()
	c.waiters[correlationID] = ch
	c.mu.Unlock()
	return ch
}

// Cancel removes a waiter registration.
func (c *Consumer) Cancel(correlationID string) {
	c.mu.Lock()
	delete(c.waiters, correlationID)
	c.mu.Unlock()
}

// Start launches one polling goroutine per subscribed topic. With a nil bus
// (broker disabled) it logs and returns nil without creating anything.
func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	if c.bus == nil {
		c.log.Debug("bus disabled, consumer not started")
		close(c.done)
		return nil
	}

	routes := make(map[string]EnvelopeHandler, len(c.routes))
	for topic, h := range c.routes {
		routes[topic] = applyMiddleware(h, c.mws)
	}

	var wg sync.WaitGroup
	for topic, handler := range routes {
		wg.Add(1)
		go func(topic string, h EnvelopeHandler) {
			defer wg.Done()
			c.loop(topic, h)
		}(topic, handler)
	}
	go func() {
		wg.Wait()
		close(c.done)
	}()

	c.log.Info("consumer started", zap.Int("topics", len(routes)))
	return nil
}

// Stop signals the loops to exit and waits up to the join timeout. On overrun
// the goroutines are abandoned with a warning and ErrJoinTimeout; shutdown
// proceeds regardless. Safe to call more than once, or before Start.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	started := c.started
	close(c.stop)
	c.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-c.done:
		c.log.Info("consumer stopped")
		return nil
	case <-time.After(c.joinTimeout):
		c.log.Warn("consumer abandoned after join timeout",
			zap.Duration("join_timeout", c.joinTimeout))
		return ErrJoinTimeout
	}
}

func (c *Consumer) loop(topic string, handler EnvelopeHandler) {
	log := c.log.With(zap.String("topic", topic))
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		pollCtx, cancel := context.WithTimeout(context.Background(), c.pollTimeout)
		msg, err := c.bus.Poll(pollCtx, topic)
		cancel()

		switch {
		case err == nil:
			// Handlers get a fresh context: the poll deadline must not
			// cancel a handler that is still running.
			c.dispatch(context.Background(), msg, handler, log)
		case errors.Is(err, ErrPollEmpty) || errors.Is(err, context.DeadlineExceeded):
			// Nothing to deliver this interval.
		case errors.Is(err, ErrBusClosed):
			log.Warn("bus closed, consumer loop exiting")
			return
		default:
			log.Warn("poll failed", zap.Error(err))
			select {
			case <-c.stop:
				return
			case <-time.After(c.pollTimeout):
			}
		}
	}
}

// dispatch decodes and routes one message. Every return path commits the
// message: delivery to handlers is at-most-once, and a poison message must
// not be redelivered forever.
func (c *Consumer) dispatch(ctx context.Context, msg Message, handler EnvelopeHandler, log *zap.Logger) {
	defer c.commit(msg, log)

	env, err := codec.Decode(msg.Value())
	if err != nil {
		log.Warn("dropping undecodable message", zap.Error(err))
		return
	}

	if c.deliverToWaiter(env) {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic", zap.Any("panic", r),
				zap.String("correlation_id", env.CorrelationID))
		}
	}()
	if err := handler(ctx, env); err != nil {
		log.Error("handler failed", zap.Error(err),
			zap.String("correlation_id", env.CorrelationID))
	}
}

func (c *Consumer) deliverToWaiter(env *codec.Envelope) bool {
	c.mu.Lock()
	ch, ok := c.waiters[env.CorrelationID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- env:
	default:
		c.log.Debug("waiter channel full, response dropped",
			zap.String("correlation_id", env.CorrelationID))
	}
	return true
}

func (c *Consumer) commit(msg Message, log *zap.Logger) {
	if err := msg.Ack(); err != nil {
		log.Warn("offset commit failed", zap.Error(err))
	}
}

// applyMiddleware wraps a handler so the first registered middleware is the
// outermost.
func applyMiddleware(h EnvelopeHandler, mws []Middleware) EnvelopeHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
