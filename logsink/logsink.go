// Package logsink publishes log events to the shared log topic so a central
// service can aggregate them. Publication is fire-and-forget: a failed
// receipt is logged locally and never surfaces to the caller.
package logsink

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/confbus/confbus/codec"
	"github.com/confbus/confbus/core"
)

// DefaultTopic is the shared log event topic.
const DefaultTopic = "log-events"

// Event is the published log record.
type Event struct {
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	ServiceName string    `json:"service_name"`
	EmittedAt   time.Time `json:"emitted_at"`
}

// Sink publishes Events. A Sink built with a nil producer (broker disabled)
// silently drops Events.
type Sink struct {
	producer       *core.Producer
	topic          string
	serviceName    string
	serviceVersion string
	log            *zap.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithTopic overrides the log event topic.
func WithTopic(topic string) Option {
	return func(s *Sink) {
		if topic != "" {
			s.topic = topic
		}
	}
}

// WithLogger sets the local logger used for delivery failures.
func WithLogger(log *zap.Logger) Option {
	return func(s *Sink) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates a Sink for the given service identity.
func New(producer *core.Producer, serviceName, serviceVersion string, opts ...Option) *Sink {
	s := &Sink{
		producer:       producer,
		topic:          DefaultTopic,
		serviceName:    serviceName,
		serviceVersion: serviceVersion,
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Emit publishes one log event. Failures are logged locally; Emit never
// blocks beyond the producer's flush deadline and never returns an error.
func (s *Sink) Emit(ctx context.Context, level, message string) {
	if s.producer == nil {
		return
	}
	event := Event{
		Level:       level,
		Message:     message,
		ServiceName: s.serviceName,
		EmittedAt:   time.Now().UTC(),
	}
	payload, err := codec.EncodePayload(event)
	if err != nil {
		s.log.Warn("log event payload encode failed", zap.Error(err))
		return
	}
	correlationID := uuid.NewString()
	data, err := codec.Encode(&codec.Envelope{
		CorrelationID:  correlationID,
		ServiceName:    s.serviceName,
		ServiceVersion: s.serviceVersion,
		Kind:           codec.KindLogEvent,
		Payload:        payload,
	})
	if err != nil {
		s.log.Warn("log event encode failed", zap.Error(err))
		return
	}
	msg := core.NewMessage([]byte(s.serviceName), data, map[string]string{
		core.HeaderCorrelationID: correlationID,
	})
	if receipt := s.producer.Send(ctx, s.topic, msg); !receipt.OK() {
		s.log.Warn("log event delivery failed", zap.Error(receipt.Err))
	}
}

// Hook returns a zap hook that forwards records at or above min to the sink.
// Attach with zap.Hooks when building the service logger.
func (s *Sink) Hook(min zapcore.Level) func(zapcore.Entry) error {
	return func(entry zapcore.Entry) error {
		if entry.Level < min {
			return nil
		}
		s.Emit(context.Background(), entry.Level.String(), entry.Message)
		return nil
	}
}
