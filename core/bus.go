package core

import "context"

// Bus defines the contract for broker drivers. Each driver plugin must
// implement this interface.
//
// Poll is a pull-style fetch bounded by the context deadline: it returns the
// next message on the topic, or ErrPollEmpty when the window elapses with
// nothing to deliver. Drivers must honor context cancellation promptly so the
// consumer loop's shutdown latency stays within one poll interval.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Poll(ctx context.Context, topic string) (Message, error)
	Close() error
}
