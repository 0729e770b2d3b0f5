// Package confbus is a microservice support library built around one
// protocol: at startup a service publishes its local default configuration to
// a central authority, waits a bounded time for a possibly-updated
// configuration, merges it by version, and thereafter runs a resilient
// background consumer/producer pair that never hangs the process, never
// crashes on a single bad message, and is fully disableable when no broker is
// configured.
//
// A minimal setup:
//
//	settings := broker.SettingsFromEnv()
//	svc := confbus.New(settings, confbus.WithLogger(log))
//	cfg, err := svc.Start(ctx, config.FromEnv("svcX", "1.0.0"), 2*time.Second)
//	defer svc.Stop()
//
// Broker drivers register themselves on import:
//
//	import _ "github.com/confbus/confbus/plugins/kafka"
package confbus

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/confbus/confbus/broker"
	"github.com/confbus/confbus/codec"
	"github.com/confbus/confbus/config"
	"github.com/confbus/confbus/configsync"
	"github.com/confbus/confbus/core"
	"github.com/confbus/confbus/core/middleware"
	"github.com/confbus/confbus/logsink"
)

// Logical topic names, broker-agnostic.
const (
	TopicConfigRequest  = configsync.DefaultRequestTopic
	TopicConfigResponse = configsync.DefaultResponseTopic
	TopicLogEvents      = logsink.DefaultTopic
)

// Re-export core types at the package level for ergonomic usage.
type (
	Message         = core.Message
	Bus             = core.Bus
	Envelope        = codec.Envelope
	EnvelopeHandler = core.EnvelopeHandler
	Middleware      = core.Middleware
	DeliveryReceipt = core.DeliveryReceipt
	Config          = config.Config
)

// Service wires the connection, producer gateway, consumer loop,
// configuration handshake, and log sink together.
type Service struct {
	settings broker.Settings
	log      *zap.Logger

	collector   middleware.MetricsCollector
	syncOpts    []configsync.Option
	pendingSubs []pendingSub

	conn     *broker.Connection
	producer *core.Producer
	consumer *core.Consumer
	sync     *configsync.Client
	sink     *logsink.Sink
	store    *config.Store
}

type pendingSub struct {
	topic   string
	handler core.EnvelopeHandler
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used by every component.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetricsCollector enables the metrics middleware on the consumer.
func WithMetricsCollector(c middleware.MetricsCollector) Option {
	return func(s *Service) { s.collector = c }
}

// WithSyncOptions passes options through to the configsync client.
func WithSyncOptions(opts ...configsync.Option) Option {
	return func(s *Service) { s.syncOpts = append(s.syncOpts, opts...) }
}

// New creates a Service. No network connection is made until Start.
func New(settings broker.Settings, opts ...Option) *Service {
	s := &Service{
		settings: settings,
		log:      zap.NewNop(),
		store:    config.NewStore(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.conn = broker.NewConnection(settings, broker.WithLogger(s.log))
	return s
}

// Subscribe registers an application handler for a topic. Must be called
// before Start.
func (s *Service) Subscribe(topic string, h core.EnvelopeHandler) {
	s.pendingSubs = append(s.pendingSubs, pendingSub{topic: topic, handler: h})
}

// Start connects to the broker (when enabled), starts the consumer loop, and
// runs the configuration handshake with the given timeout. The returned
// config is the merge outcome; it is also readable at any time via Config.
//
// A broker that cannot be reached degrades the service to disabled mode with
// the default configuration: startup failures here are never fatal.
func (s *Service) Start(ctx context.Context, def *config.Config, handshakeTimeout time.Duration) (*config.Config, error) {
	if err := s.conn.Connect(ctx); err != nil {
		if !errors.Is(err, core.ErrBusDisabled) {
			s.log.Error("broker unavailable, running with default configuration", zap.Error(err))
		}
		s.sync = configsync.New(nil, nil, s.store, s.syncOptions()...)
		return s.sync.Request(ctx, def, 0)
	}

	bus := s.conn.Bus()
	s.producer = core.NewProducer(bus,
		core.WithFlushTimeout(s.settings.FlushTimeout),
		core.WithProducerLogger(s.log))
	s.consumer = core.NewConsumer(bus,
		core.WithPollTimeout(s.settings.PollTimeout),
		core.WithJoinTimeout(s.settings.JoinTimeout),
		core.WithConsumerLogger(s.log))

	s.consumer.Use(middleware.Recovery(s.log))
	s.consumer.Use(middleware.Logging(s.log))
	if s.collector != nil {
		s.consumer.Use(middleware.Metrics(s.collector))
	}

	s.sync = configsync.New(s.producer, s.consumer, s.store, s.syncOptions()...)
	s.consumer.Subscribe(s.sync.ResponseTopic(), s.sync.Handler())
	for _, sub := range s.pendingSubs {
		s.consumer.Subscribe(sub.topic, sub.handler)
	}

	if err := s.consumer.Start(); err != nil {
		return nil, err
	}

	cfg, err := s.sync.Request(ctx, def, handshakeTimeout)
	if err != nil {
		return nil, err
	}
	s.sink = logsink.New(s.producer, cfg.ServiceName, cfg.ServiceVersion,
		logsink.WithLogger(s.log))
	return cfg, nil
}

func (s *Service) syncOptions() []configsync.Option {
	return append([]configsync.Option{configsync.WithLogger(s.log)}, s.syncOpts...)
}

// Stop shuts down the consumer and closes the broker connection. Both steps
// are bounded; Stop never blocks shutdown indefinitely. Safe to call more
// than once and without a prior Start.
func (s *Service) Stop() error {
	var errs []error
	if s.consumer != nil {
		errs = append(errs, s.consumer.Stop())
	}
	errs = append(errs, s.conn.Close())
	return errors.Join(errs...)
}

// Config returns the current process-wide configuration snapshot.
func (s *Service) Config() *config.Config { return s.store.Load() }

// Store exposes the snapshot store for collaborators that hold a reference.
func (s *Service) Store() *config.Store { return s.store }

// Producer returns the producer gateway, or nil when the broker is disabled.
func (s *Service) Producer() *core.Producer { return s.producer }

// Sink returns the log event sink. It is non-nil after a successful Start;
// with a disabled broker it drops events silently.
func (s *Service) Sink() *logsink.Sink {
	if s.sink == nil {
		cfg := s.store.Load()
		name, version := "", ""
		if cfg != nil {
			name, version = cfg.ServiceName, cfg.ServiceVersion
		}
		s.sink = logsink.New(s.producer, name, version, logsink.WithLogger(s.log))
	}
	return s.sink
}
