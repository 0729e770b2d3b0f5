// Package codec implements the wire format for confbus envelopes.
//
// Envelopes are JSON objects with a schema version tag. Decoding tolerates
// unknown fields so newer producers can talk to older consumers; structurally
// malformed payloads produce a *DecodeError that callers are expected to
// catch and log rather than propagate.
package codec

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// SchemaVersion is embedded in every envelope this build produces.
const SchemaVersion = 1

// Envelope kinds.
const (
	KindConfigRequest  = "config-request"
	KindConfigResponse = "config-response"
	KindLogEvent       = "log-event"
)

var json = sonic.ConfigStd

// Envelope is the broker-agnostic message wrapper. Payload carries an encoded
// Config or LogEvent depending on Kind.
type Envelope struct {
	SchemaVersion  int       `json:"schema_version"`
	CorrelationID  string    `json:"correlation_id"`
	ServiceName    string    `json:"service_name"`
	ServiceVersion string    `json:"service_version"`
	Kind           string    `json:"kind"`
	Payload        []byte    `json:"payload"`
	SentAt         time.Time `json:"sent_at"`
}

// DecodeError wraps the cause of a failed decode. It is always handled by the
// consumer loop, never propagated to terminate anything.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("confbus/codec: decode: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// Encode serializes an envelope, stamping the schema version and SentAt if
// they are unset.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("confbus/codec: encode: nil envelope")
	}
	out := *env
	if out.SchemaVersion == 0 {
		out.SchemaVersion = SchemaVersion
	}
	if out.SentAt.IsZero() {
		out.SentAt = time.Now().UTC()
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("confbus/codec: encode: %w", err)
	}
	return data, nil
}

// Decode parses envelope bytes. Unknown fields are ignored; empty input,
// malformed JSON, or an envelope without a correlation id yield *DecodeError.
func Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Cause: fmt.Errorf("empty payload")}
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Cause: err}
	}
	if env.CorrelationID == "" {
		return nil, &DecodeError{Cause: fmt.Errorf("missing correlation_id")}
	}
	if env.Kind == "" {
		return nil, &DecodeError{Cause: fmt.Errorf("missing kind")}
	}
	return &env, nil
}

// EncodePayload marshals an arbitrary payload value for use as Envelope.Payload.
func EncodePayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("confbus/codec: encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload unmarshals Envelope.Payload into v. Malformed payloads yield
// *DecodeError just like envelope-level failures.
func DecodePayload(data []byte, v any) error {
	if len(data) == 0 {
		return &DecodeError{Cause: fmt.Errorf("empty payload")}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &DecodeError{Cause: err}
	}
	return nil
}
