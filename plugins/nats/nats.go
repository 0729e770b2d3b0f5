// Package nats implements the confbus bus driver for NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/confbus/confbus/broker"
	"github.com/confbus/confbus/core"
)

func init() {
	broker.Register("nats", func(s broker.Settings) (core.Bus, error) {
		return New(s)
	})
}

// Bus implements core.Bus for NATS JetStream.
//
// Design decisions:
//   - One NATS connection per Bus instance.
//   - Each polled topic gets a stream and a durable pull consumer, created
//     lazily on first Poll. The durable name is the consumer group id, so
//     offset progress survives restarts.
//   - The offset reset policy maps to the consumer deliver policy, which
//     JetStream applies only when the durable has no prior state.
//   - Poll uses bounded Fetch, never a push subscription, so the consumer
//     loop controls its own pacing and shutdown latency.
type Bus struct {
	settings broker.Settings
	conn     *nats.Conn
	js       jetstream.JetStream

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer
	closed    bool
}

// New creates a NATS JetStream Bus from broker settings.
func New(s broker.Settings) (*Bus, error) {
	if len(s.Endpoints) == 0 {
		return nil, fmt.Errorf("confbus/nats: at least one endpoint is required")
	}

	nc, err := nats.Connect(strings.Join(s.Endpoints, ","))
	if err != nil {
		return nil, fmt.Errorf("confbus/nats: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("confbus/nats: init jetstream: %w", err)
	}

	return &Bus{
		settings:  s,
		conn:      nc,
		js:        js,
		consumers: make(map[string]jetstream.Consumer),
	}, nil
}

// Publish sends a message to the subject via JetStream.
func (b *Bus) Publish(ctx context.Context, topic string, msg core.Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBusClosed
	}
	b.mu.Unlock()

	headers := nats.Header{}
	for k, v := range msg.Headers() {
		headers.Set(k, v)
	}
	nm := &nats.Msg{
		Subject: topic,
		Data:    msg.Value(),
		Header:  headers,
	}
	if _, err := b.js.PublishMsg(ctx, nm); err != nil {
		return fmt.Errorf("confbus/nats: publish to %q: %w", topic, err)
	}
	return nil
}

// Poll fetches the next message on the topic, bounded by ctx.
func (b *Bus) Poll(ctx context.Context, topic string) (core.Message, error) {
	cons, err := b.consumer(ctx, topic)
	if err != nil {
		return nil, err
	}

	wait := 250 * time.Millisecond
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}
	if wait <= 0 {
		return nil, core.ErrPollEmpty
	}

	batch, err := cons.Fetch(1, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, fmt.Errorf("confbus/nats: fetch from %q: %w", topic, err)
	}
	for raw := range batch.Messages() {
		return &message{msg: raw}, nil
	}
	if err := batch.Error(); err != nil && err != nats.ErrTimeout {
		return nil, fmt.Errorf("confbus/nats: fetch from %q: %w", topic, err)
	}
	return nil, core.ErrPollEmpty
}

func (b *Bus) consumer(ctx context.Context, topic string) (jetstream.Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, core.ErrBusClosed
	}
	if cons, ok := b.consumers[topic]; ok {
		return cons, nil
	}

	streamName := sanitizeStreamName(topic)
	stream, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{topic},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("confbus/nats: create stream %q: %w", streamName, err)
	}

	deliver := jetstream.DeliverNewPolicy
	if b.settings.OffsetResetPolicy == broker.OffsetEarliest {
		deliver = jetstream.DeliverAllPolicy
	}
	durable := b.settings.Group
	if durable == "" {
		durable = "confbus-" + streamName
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: deliver,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("confbus/nats: create consumer %q: %w", durable, err)
	}
	b.consumers[topic] = cons
	return cons, nil
}

// Close drains the NATS connection. Safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.conn.Close()
	return nil
}

// sanitizeStreamName converts a subject to a valid stream name.
func sanitizeStreamName(topic string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>':
			return '-'
		}
		return r
	}, topic)
}
