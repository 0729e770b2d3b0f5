package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderCorrelationID is the transport header carrying the envelope's
// correlation id, used as the receipt's message id.
const HeaderCorrelationID = "correlation_id"

// DefaultFlushTimeout bounds how long a single publish attempt may wait on
// broker acknowledgment.
const DefaultFlushTimeout = 3 * time.Second

// Producer publishes messages with a bounded flush deadline and at most one
// retry. Send never blocks the caller indefinitely and never panics: a
// publish that fails after the retry is reported as a failed receipt.
type Producer struct {
	bus          Bus
	flushTimeout time.Duration
	log          *zap.Logger
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithFlushTimeout sets the per-attempt publish deadline.
func WithFlushTimeout(d time.Duration) ProducerOption {
	return func(p *Producer) {
		if d > 0 {
			p.flushTimeout = d
		}
	}
}

// WithProducerLogger sets the logger. Defaults to a no-op logger.
func WithProducerLogger(log *zap.Logger) ProducerOption {
	return func(p *Producer) {
		if log != nil {
			p.log = log
		}
	}
}

// NewProducer creates a Producer on top of the given bus.
func NewProducer(bus Bus, opts ...ProducerOption) *Producer {
	p := &Producer{
		bus:          bus,
		flushTimeout: DefaultFlushTimeout,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Send publishes msg to topic. Each attempt runs under the flush deadline;
// one retry is made on transient failure. The returned receipt reports the
// final outcome; Send itself never returns an error.
func (p *Producer) Send(ctx context.Context, topic string, msg Message) DeliveryReceipt {
	receipt := DeliveryReceipt{
		MessageID: messageID(msg),
		Topic:     topic,
		Partition: -1,
		Offset:    -1,
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = p.attempt(ctx, topic, msg)
		if err == nil {
			receipt.Status = StatusOK
			return receipt
		}
		if errors.Is(err, ErrBusClosed) || errors.Is(err, ErrBusDisabled) || ctx.Err() != nil {
			break
		}
		if attempt == 0 {
			p.log.Warn("publish failed, retrying once",
				zap.String("topic", topic),
				zap.String("message_id", receipt.MessageID),
				zap.Error(err))
		}
	}

	p.log.Error("publish failed",
		zap.String("topic", topic),
		zap.String("message_id", receipt.MessageID),
		zap.Error(err))
	receipt.Status = StatusFailed
	receipt.Err = err
	return receipt
}

func (p *Producer) attempt(ctx context.Context, topic string, msg Message) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.flushTimeout)
	defer cancel()
	return p.bus.Publish(attemptCtx, topic, msg)
}

func messageID(msg Message) string {
	if id := msg.Headers()[HeaderCorrelationID]; id != "" {
		return id
	}
	return uuid.NewString()
}
