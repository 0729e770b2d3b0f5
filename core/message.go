package core

// Message is the broker-agnostic message abstraction. Incoming messages are
// produced by bus drivers; outgoing messages are built with NewMessage.
type Message interface {
	Key() []byte
	Value() []byte
	Headers() map[string]string

	// Ack commits the message (offset commit / queue removal). Drivers only
	// commit after the consumer loop has dispatched the message, so a crash
	// before dispatch leaves it for redelivery.
	Ack() error

	// Nack signals the message could not be processed. For drivers without a
	// negative ack (Kafka) this is a no-op; not committing is the signal.
	Nack() error
}

// outMessage is the Message implementation used for publishing.
type outMessage struct {
	key     []byte
	value   []byte
	headers map[string]string
}

// NewMessage builds an outgoing message. Ack and Nack are no-ops.
func NewMessage(key, value []byte, headers map[string]string) Message {
	return &outMessage{key: key, value: value, headers: headers}
}

func (m *outMessage) Key() []byte                { return m.key }
func (m *outMessage) Value() []byte              { return m.value }
func (m *outMessage) Headers() map[string]string { return m.headers }
func (m *outMessage) Ack() error                 { return nil }
func (m *outMessage) Nack() error                { return nil }
