package message

import (
	"fmt"
	"maps"
	"time"
)

// Reserved header keys
const (
	HeaderID            = "id"
	HeaderTimestamp     = "timestamp"
	HeaderCorrelationID = "correlationId"
	HeaderContentType   = "contentType"
)

// Headers is a read-only snapshot of a message's headers.
type Headers map[string]any

// Get returns the header value for key
func (h Headers) Get(key string) (any, bool) {
	v, ok := h[key]
	return v, ok
}

// GetString returns the header value for key if it is a string
func (h Headers) GetString(key string) (string, bool) {
	v, ok := h[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Properties is a string-to-string property set. A processor result of this
// kind is merged into headers rather than treated as a payload.
type Properties map[string]string

// Message is an immutable payload plus headers. Build instances with
// WithPayload or FromMessage; there is no way to modify one in place.
type Message struct {
	payload any
	headers map[string]any
}

// Payload returns the message payload
func (m *Message) Payload() any {
	return m.payload
}

// Headers returns a copy of the message headers
func (m *Message) Headers() Headers {
	return maps.Clone(m.headers)
}

// Header returns a single header value
func (m *Message) Header(key string) (any, bool) {
	v, ok := m.headers[key]
	return v, ok
}

// ID returns the message ID
func (m *Message) ID() string {
	id, _ := m.headers[HeaderID].(string)
	return id
}

// Timestamp returns the creation time of this message instance
func (m *Message) Timestamp() time.Time {
	ts, _ := m.headers[HeaderTimestamp].(time.Time)
	return ts
}

// CorrelationID returns the correlation ID header, if any
func (m *Message) CorrelationID() string {
	id, _ := m.headers[HeaderCorrelationID].(string)
	return id
}

// String implements fmt.Stringer
func (m *Message) String() string {
	return fmt.Sprintf("Message[payload=%v (%T), headers=%v]", m.payload, m.payload, m.headers)
}
