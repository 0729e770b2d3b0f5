// Package kafka implements the confbus bus driver for Apache Kafka using
// segmentio/kafka-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/confbus/confbus/broker"
	"github.com/confbus/confbus/core"
)

func init() {
	broker.Register("kafka", func(s broker.Settings) (core.Bus, error) {
		return New(s)
	})
}

// Bus implements core.Bus for Kafka.
//
// Design decisions:
//   - One kafka.Writer shared across all Publish calls (thread-safe by
//     library), synchronous with RequireAll acks so the flush deadline of the
//     caller's context actually bounds the acknowledgment wait.
//   - One kafka.Reader per polled topic, created lazily on first Poll.
//   - StartOffset maps the offset reset policy; kafka-go applies it only when
//     the consumer group has no committed offset, which is exactly the
//     first-read-only semantics the policy requires.
//   - Offsets are committed via Message.Ack after dispatch, never before.
type Bus struct {
	settings broker.Settings

	writer *kafka.Writer

	mu      sync.Mutex
	readers map[string]*kafka.Reader
	closed  bool
}

// New creates a Kafka Bus from broker settings.
func New(s broker.Settings) (*Bus, error) {
	if len(s.Endpoints) == 0 {
		return nil, fmt.Errorf("confbus/kafka: at least one endpoint is required")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(s.Endpoints...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Bus{
		settings: s,
		writer:   w,
		readers:  make(map[string]*kafka.Reader),
	}, nil
}

// Publish sends a message to the topic, bounded by ctx.
func (b *Bus) Publish(ctx context.Context, topic string, msg core.Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBusClosed
	}
	b.mu.Unlock()

	km := kafka.Message{
		Topic:   topic,
		Key:     msg.Key(),
		Value:   msg.Value(),
		Headers: toHeaders(msg.Headers()),
	}
	if err := b.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("confbus/kafka: publish to %q: %w", topic, err)
	}
	return nil
}

// Poll fetches the next message on the topic, bounded by ctx. An expired
// poll window maps to core.ErrPollEmpty.
func (b *Bus) Poll(ctx context.Context, topic string) (core.Message, error) {
	r, err := b.reader(topic)
	if err != nil {
		return nil, err
	}

	raw, err := r.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, core.ErrPollEmpty
		}
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return nil, core.ErrBusClosed
		}
		return nil, fmt.Errorf("confbus/kafka: fetch from %q: %w", topic, err)
	}
	return &message{raw: raw, reader: r}, nil
}

func (b *Bus) reader(topic string) (*kafka.Reader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, core.ErrBusClosed
	}
	if r, ok := b.readers[topic]; ok {
		return r, nil
	}

	startOffset := kafka.LastOffset
	if b.settings.OffsetResetPolicy == broker.OffsetEarliest {
		startOffset = kafka.FirstOffset
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.settings.Endpoints,
		Topic:       topic,
		GroupID:     b.settings.Group,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
		StartOffset: startOffset,
	})
	b.readers[topic] = r
	return r, nil
}

// Close closes the writer and all readers. Safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	errs := []error{b.writer.Close()}
	for topic, r := range b.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("confbus/kafka: close reader %q: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

func toHeaders(h map[string]string) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	headers := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
