package core

// DeliveryStatus reports the outcome of a publish attempt.
type DeliveryStatus string

const (
	StatusOK     DeliveryStatus = "ok"
	StatusFailed DeliveryStatus = "failed"
)

// DeliveryReceipt is the acknowledgment record for a publish attempt. A
// failed receipt carries the final error; the caller decides whether that is
// fatal (for configuration and log traffic it never is).
//
// Partition and Offset are -1 when the driver cannot report them (Kafka
// writers batch asynchronously and do not surface per-message offsets).
type DeliveryReceipt struct {
	MessageID string
	Topic     string
	Partition int
	Offset    int64
	Status    DeliveryStatus
	Err       error
}

// OK reports whether the publish succeeded.
func (r DeliveryReceipt) OK() bool { return r.Status == StatusOK }
