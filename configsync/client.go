// Package configsync implements the startup configuration handshake: publish
// the local defaults to the central configuration authority, wait a bounded
// time for a possibly-updated configuration, and merge it by version.
package configsync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/confbus/confbus/codec"
	"github.com/confbus/confbus/config"
	"github.com/confbus/confbus/core"
)

// Default topics for the handshake exchange.
const (
	DefaultRequestTopic  = "config-request"
	DefaultResponseTopic = "config-response"
)

// ErrNoDefaultConfig is returned when Request is called without a default
// configuration. A service must always carry compiled-in defaults; running
// without any configuration is a startup error, not something to paper over.
var ErrNoDefaultConfig = errors.New("confbus/configsync: no default configuration")

// Client performs the startup handshake and applies later configuration
// pushes. It is the only writer of the process-wide config store.
type Client struct {
	producer *core.Producer
	consumer *core.Consumer
	store    *config.Store
	log      *zap.Logger

	requestTopic  string
	responseTopic string
	persistPath   string
	restartFlags  []string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTopics overrides the request/response topic names.
func WithTopics(request, response string) Option {
	return func(c *Client) {
		if request != "" {
			c.requestTopic = request
		}
		if response != "" {
			c.responseTopic = response
		}
	}
}

// WithPersistPath enables writing adopted configurations to a JSON file so
// restart-requiring changes survive the restart.
func WithPersistPath(path string) Option {
	return func(c *Client) { c.persistPath = path }
}

// WithRestartFlags names the feature flags whose change requires a service
// restart to take effect.
func WithRestartFlags(flags ...string) Option {
	return func(c *Client) { c.restartFlags = flags }
}

// New creates a Client. producer and consumer are nil when the broker is
// disabled; the client then resolves every request locally with zero network
// calls.
func New(producer *core.Producer, consumer *core.Consumer, store *config.Store, opts ...Option) *Client {
	c := &Client{
		producer:      producer,
		consumer:      consumer,
		store:         store,
		log:           zap.NewNop(),
		requestTopic:  DefaultRequestTopic,
		responseTopic: DefaultResponseTopic,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResponseTopic returns the topic the client expects responses on. The
// consumer must be subscribed to it (Handler is the matching handler).
func (c *Client) ResponseTopic() string { return c.responseTopic }

// Request publishes the default configuration and waits up to timeout for an
// authoritative response.
//
// Outcomes, none of which are fatal:
//   - broker disabled: def is returned immediately, untouched;
//   - no matching response within timeout: def is returned (logged at info,
//     this is a normal path);
//   - response with version <= local: def is kept, a stale remote never
//     regresses a newer local config;
//   - response with a greater version: the response is adopted.
//
// The winning configuration is published to the store before Request returns,
// so readers never observe a partially-merged config.
func (c *Client) Request(ctx context.Context, def *config.Config, timeout time.Duration) (*config.Config, error) {
	if def == nil {
		return nil, ErrNoDefaultConfig
	}
	if c.producer == nil || c.consumer == nil {
		c.log.Debug("broker disabled, using default configuration")
		c.store.Replace(def)
		return def.Clone(), nil
	}

	correlationID := uuid.NewString()
	responses := c.consumer.Expect(correlationID)
	defer c.consumer.Cancel(correlationID)

	if err := c.publishRequest(ctx, correlationID, def); err != nil {
		c.log.Error("config request publish failed, using defaults", zap.Error(err))
		c.store.Replace(def)
		return def.Clone(), nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-responses:
			cfg, ok := c.resolve(def, env)
			if !ok {
				continue
			}
			c.store.Replace(cfg)
			return cfg, nil
		case <-timer.C:
			c.log.Info("no configuration response within timeout, using defaults",
				zap.Duration("timeout", timeout),
				zap.String("correlation_id", correlationID))
			c.store.Replace(def)
			return def.Clone(), nil
		case <-ctx.Done():
			c.store.Replace(def)
			return def.Clone(), ctx.Err()
		}
	}
}

func (c *Client) publishRequest(ctx context.Context, correlationID string, def *config.Config) error {
	payload, err := codec.EncodePayload(def)
	if err != nil {
		return err
	}
	data, err := codec.Encode(&codec.Envelope{
		CorrelationID:  correlationID,
		ServiceName:    def.ServiceName,
		ServiceVersion: def.ServiceVersion,
		Kind:           codec.KindConfigRequest,
		Payload:        payload,
	})
	if err != nil {
		return err
	}
	msg := core.NewMessage([]byte(def.ServiceName), data, map[string]string{
		core.HeaderCorrelationID: correlationID,
	})
	receipt := c.producer.Send(ctx, c.requestTopic, msg)
	if !receipt.OK() {
		return receipt.Err
	}
	return nil
}

// resolve merges one handshake response. A response whose payload does not
// decode is logged and skipped, leaving the waiter armed until the deadline.
func (c *Client) resolve(def *config.Config, env *codec.Envelope) (*config.Config, bool) {
	var remote config.Config
	if err := codec.DecodePayload(env.Payload, &remote); err != nil {
		c.log.Warn("discarding undecodable config response",
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err))
		return nil, false
	}

	res := config.Merge(def, &remote, c.restartFlags...)
	if !res.Adopted {
		c.log.Info("keeping local configuration, remote version is not newer",
			zap.Int64("local_version", def.ConfigVersion),
			zap.Int64("remote_version", remote.ConfigVersion))
		return res.Config, true
	}

	c.log.Info("adopted remote configuration",
		zap.Int64("local_version", def.ConfigVersion),
		zap.Int64("remote_version", remote.ConfigVersion))
	c.persist(res)
	return res.Config, true
}

// Handler processes configuration pushes arriving outside the handshake. It
// belongs on the response topic; handshake responses are intercepted earlier
// by the consumer's correlation waiters.
//
// The live configuration is written at most once, by the handshake, so a
// pushed config is never applied to the running process. A newer one is
// persisted (when a persist path is set) and announced as requiring a
// restart; a stale or late handshake response is discarded.
func (c *Client) Handler() core.EnvelopeHandler {
	return func(ctx context.Context, env *codec.Envelope) error {
		var remote config.Config
		if err := codec.DecodePayload(env.Payload, &remote); err != nil {
			return err
		}
		local := c.store.Load()
		if local == nil || remote.ServiceName != local.ServiceName {
			c.log.Debug("ignoring config push for another service",
				zap.String("service", remote.ServiceName))
			return nil
		}
		res := config.Merge(local, &remote, c.restartFlags...)
		if !res.Adopted {
			c.log.Debug("discarding stale config push",
				zap.Int64("local_version", local.ConfigVersion),
				zap.Int64("remote_version", remote.ConfigVersion))
			return nil
		}
		c.log.Info("received newer configuration, restart required to apply",
			zap.Int64("local_version", local.ConfigVersion),
			zap.Int64("remote_version", remote.ConfigVersion))
		if c.persistPath != "" {
			if err := config.SaveFile(c.persistPath, res.Config); err != nil {
				c.log.Error("failed to persist pushed configuration", zap.Error(err))
			}
		}
		return nil
	}
}

func (c *Client) persist(res config.MergeResult) {
	if res.ReloadNeeded {
		c.log.Warn("configuration change requires a service restart")
	}
	if c.persistPath == "" {
		return
	}
	if err := config.SaveFile(c.persistPath, res.Config); err != nil {
		c.log.Error("failed to persist configuration", zap.Error(err))
	}
}
