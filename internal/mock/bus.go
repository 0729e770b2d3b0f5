// Package mock provides test doubles for the bus driver contract.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/confbus/confbus/core"
)

// Bus is a test double for core.Bus backed by in-memory topic queues.
type Bus struct {
	mu        sync.Mutex
	published []PublishedMessage
	queues    map[string]chan core.Message
	closed    bool

	// PublishErrs is consumed one entry per Publish call; a nil entry means
	// success. Once drained, Publish succeeds. Use it to script transient
	// failures for retry tests.
	PublishErrs []error

	// PublishDelay makes every Publish wait before returning, honoring the
	// caller's context. Use it to simulate an unresponsive broker.
	PublishDelay time.Duration

	// PollErr, when set, is returned by every Poll.
	PollErr error
}

// PublishedMessage records a message sent through Publish.
type PublishedMessage struct {
	Topic   string
	Message core.Message
}

func NewBus() *Bus {
	return &Bus{queues: make(map[string]chan core.Message)}
}

func (b *Bus) Publish(ctx context.Context, topic string, msg core.Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBusClosed
	}
	delay := b.PublishDelay
	var scripted error
	if len(b.PublishErrs) > 0 {
		scripted = b.PublishErrs[0]
		b.PublishErrs = b.PublishErrs[1:]
	}
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if scripted != nil {
		return scripted
	}

	b.mu.Lock()
	b.published = append(b.published, PublishedMessage{Topic: topic, Message: msg})
	b.mu.Unlock()
	return nil
}

func (b *Bus) Poll(ctx context.Context, topic string) (core.Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, core.ErrBusClosed
	}
	if b.PollErr != nil {
		err := b.PollErr
		b.mu.Unlock()
		return nil, err
	}
	q := b.queue(topic)
	b.mu.Unlock()

	select {
	case msg := <-q:
		return msg, nil
	case <-ctx.Done():
		return nil, core.ErrPollEmpty
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Push enqueues a message for delivery to the next Poll on the topic.
func (b *Bus) Push(topic string, msg core.Message) {
	b.mu.Lock()
	q := b.queue(topic)
	b.mu.Unlock()
	q <- msg
}

// Published returns all messages sent via Publish.
func (b *Bus) Published() []PublishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PublishedMessage, len(b.published))
	copy(out, b.published)
	return out
}

// IsClosed reports whether Close was called.
func (b *Bus) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus) queue(topic string) chan core.Message {
	q, ok := b.queues[topic]
	if !ok {
		q = make(chan core.Message, 64)
		b.queues[topic] = q
	}
	return q
}
