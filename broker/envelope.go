package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glimte/mmate-channels/message"
)

// Payload encodings carried in an envelope
const (
	PayloadBytes  = "bytes"
	PayloadString = "string"
	PayloadJSON   = "json"
)

// Envelope wraps a message for transports that carry opaque bytes
type Envelope struct {
	ID            string          `json:"id"`
	Timestamp     string          `json:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Headers       map[string]any  `json:"headers,omitempty"`
	PayloadType   string          `json:"payloadType"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope encodes msg into an envelope
func NewEnvelope(msg *message.Message) (*Envelope, error) {
	env := &Envelope{
		ID:            msg.ID(),
		Timestamp:     msg.Timestamp().Format(time.RFC3339Nano),
		CorrelationID: msg.CorrelationID(),
		Headers:       make(map[string]any),
	}

	for k, v := range msg.Headers() {
		switch k {
		case message.HeaderID, message.HeaderTimestamp, message.HeaderCorrelationID:
			continue
		}
		env.Headers[k] = v
	}

	var (
		raw []byte
		err error
	)
	switch p := msg.Payload().(type) {
	case []byte:
		env.PayloadType = PayloadBytes
		raw, err = json.Marshal(p)
	case string:
		env.PayloadType = PayloadString
		raw, err = json.Marshal(p)
	default:
		env.PayloadType = PayloadJSON
		raw, err = json.Marshal(p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload of type %T: %w", msg.Payload(), err)
	}
	env.Payload = raw
	return env, nil
}

// Marshal encodes a message as envelope JSON
func Marshal(msg *message.Message) ([]byte, error) {
	env, err := NewEnvelope(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Unmarshal decodes envelope JSON into a new message. The original id and
// timestamp are kept as "sourceId" and "sourceTimestamp" headers.
func Unmarshal(data []byte) (*message.Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env.Message()
}

// Message rebuilds the message carried by the envelope
func (e *Envelope) Message() (*message.Message, error) {
	var payload any
	switch e.PayloadType {
	case PayloadBytes:
		var b []byte
		if err := json.Unmarshal(e.Payload, &b); err != nil {
			return nil, fmt.Errorf("failed to decode bytes payload: %w", err)
		}
		payload = b
	case PayloadString:
		var s string
		if err := json.Unmarshal(e.Payload, &s); err != nil {
			return nil, fmt.Errorf("failed to decode string payload: %w", err)
		}
		payload = s
	case PayloadJSON, "":
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode json payload: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown payload type %q", e.PayloadType)
	}
	if payload == nil {
		return nil, fmt.Errorf("envelope %s has no payload", e.ID)
	}

	b := message.WithPayload(payload).CopyHeaders(e.Headers)
	if e.CorrelationID != "" {
		b.SetCorrelationID(e.CorrelationID)
	}
	if e.ID != "" {
		b.SetHeader(HeaderSourceID, e.ID)
	}
	if e.Timestamp != "" {
		b.SetHeader(HeaderSourceTimestamp, e.Timestamp)
	}
	return b.Build(), nil
}

// Headers added to messages decoded from a transport
const (
	HeaderSourceID        = "sourceId"
	HeaderSourceTimestamp = "sourceTimestamp"
)
