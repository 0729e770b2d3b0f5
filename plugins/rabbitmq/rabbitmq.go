// Package rabbitmq implements the confbus bus driver for RabbitMQ using
// amqp091-go.
package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/confbus/confbus/broker"
	"github.com/confbus/confbus/core"
)

func init() {
	broker.Register("rabbitmq", func(s broker.Settings) (core.Bus, error) {
		return New(s)
	})
}

// Bus implements core.Bus for RabbitMQ.
//
// Design decisions:
//   - Single connection and channel per Bus instance.
//   - Durable queues, manual ack mode: Message.Ack confirms, Message.Nack
//     requeues.
//   - Poll bridges the push-style delivery channel into the bounded pull
//     model: it waits at most until the context deadline for the next
//     delivery already buffered by the prefetch window.
type Bus struct {
	settings broker.Settings
	conn     *amqp.Connection
	ch       *amqp.Channel

	mu         sync.Mutex
	deliveries map[string]<-chan amqp.Delivery
	closed     bool
}

// New creates a RabbitMQ Bus. The first endpoint is used as the AMQP URI.
func New(s broker.Settings) (*Bus, error) {
	if len(s.Endpoints) == 0 {
		return nil, fmt.Errorf("confbus/rabbitmq: at least one endpoint is required")
	}

	conn, err := amqp.Dial(s.Endpoints[0])
	if err != nil {
		return nil, fmt.Errorf("confbus/rabbitmq: dial %q: %w", s.Endpoints[0], err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("confbus/rabbitmq: open channel: %w", err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("confbus/rabbitmq: set qos: %w", err)
	}

	return &Bus{
		settings:   s,
		conn:       conn,
		ch:         ch,
		deliveries: make(map[string]<-chan amqp.Delivery),
	}, nil
}

// Publish sends a message to the queue named after the topic.
func (b *Bus) Publish(ctx context.Context, topic string, msg core.Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBusClosed
	}
	ch := b.ch
	b.mu.Unlock()

	headers := amqp.Table{}
	for k, v := range msg.Headers() {
		headers[k] = v
	}
	if err := ch.PublishWithContext(ctx, "", topic, false, false, amqp.Publishing{
		Body:    msg.Value(),
		Headers: headers,
	}); err != nil {
		return fmt.Errorf("confbus/rabbitmq: publish to %q: %w", topic, err)
	}
	return nil
}

// Poll waits for the next delivery on the topic queue, bounded by ctx.
func (b *Bus) Poll(ctx context.Context, topic string) (core.Message, error) {
	deliveries, err := b.consume(topic)
	if err != nil {
		return nil, err
	}

	select {
	case d, ok := <-deliveries:
		if !ok {
			return nil, core.ErrBusClosed
		}
		return &message{d: d}, nil
	case <-ctx.Done():
		return nil, core.ErrPollEmpty
	}
}

func (b *Bus) consume(topic string) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, core.ErrBusClosed
	}
	if d, ok := b.deliveries[topic]; ok {
		return d, nil
	}

	if _, err := b.ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("confbus/rabbitmq: declare queue %q: %w", topic, err)
	}
	consumerTag := b.settings.Group
	if consumerTag != "" {
		consumerTag = consumerTag + "-" + topic
	}
	d, err := b.ch.Consume(topic, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("confbus/rabbitmq: consume %q: %w", topic, err)
	}
	b.deliveries[topic] = d
	return d, nil
}

// Close tears down the channel and connection. Safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	if err := b.ch.Close(); err != nil {
		b.conn.Close()
		return fmt.Errorf("confbus/rabbitmq: close channel: %w", err)
	}
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("confbus/rabbitmq: close connection: %w", err)
	}
	return nil
}
