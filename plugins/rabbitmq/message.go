package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// message adapts an AMQP delivery to core.Message.
type message struct {
	d amqp.Delivery
}

func (m *message) Key() []byte   { return []byte(m.d.RoutingKey) }
func (m *message) Value() []byte { return m.d.Body }

func (m *message) Headers() map[string]string {
	h := make(map[string]string, len(m.d.Headers))
	for k, v := range m.d.Headers {
		if s, ok := v.(string); ok {
			h[k] = s
		}
	}
	return h
}

// Ack removes the message from the queue.
func (m *message) Ack() error {
	if err := m.d.Ack(false); err != nil {
		return fmt.Errorf("confbus/rabbitmq: ack: %w", err)
	}
	return nil
}

// Nack requeues the message for redelivery.
func (m *message) Nack() error {
	if err := m.d.Nack(false, true); err != nil {
		return fmt.Errorf("confbus/rabbitmq: nack: %w", err)
	}
	return nil
}
