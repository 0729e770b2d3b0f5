package core

import "errors"

var (
	// ErrBusClosed is returned when operations are attempted on a closed bus.
	ErrBusClosed = errors.New("confbus: bus is closed")

	// ErrBusDisabled is returned when the service is configured to run
	// without a broker; no producer or consumer exists in that mode.
	ErrBusDisabled = errors.New("confbus: bus is disabled")

	// ErrPollEmpty is returned by Bus.Poll when the poll window elapsed
	// without a message. It is a normal outcome, not a failure.
	ErrPollEmpty = errors.New("confbus: poll returned no message")

	// ErrAlreadyStarted is returned when Start is called on a running consumer.
	ErrAlreadyStarted = errors.New("confbus: consumer already started")

	// ErrJoinTimeout is returned by Stop when the consumer goroutines did not
	// exit within the join deadline. Shutdown proceeds regardless.
	ErrJoinTimeout = errors.New("confbus: consumer did not stop within join timeout")

	// ErrCloseTimeout is returned when a bus did not close within the
	// shutdown grace period. The handle is abandoned, never waited on.
	ErrCloseTimeout = errors.New("confbus: bus close exceeded grace period")
)
