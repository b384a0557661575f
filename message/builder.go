package message

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Builder assembles a new Message. A builder is not safe for concurrent use.
type Builder struct {
	payload  any
	headers  map[string]any
	original *Message
	modified bool
}

// WithPayload starts a builder for a new message with the given payload
func WithPayload(payload any) *Builder {
	return &Builder{
		payload: payload,
		headers: make(map[string]any),
	}
}

// FromMessage starts a builder holding the payload and all headers of msg.
// Building without any modification returns msg itself.
func FromMessage(msg *Message) *Builder {
	b := &Builder{
		payload:  msg.payload,
		headers:  maps.Clone(msg.headers),
		original: msg,
	}
	if b.headers == nil {
		b.headers = make(map[string]any)
	}
	return b
}

func isReserved(key string) bool {
	return key == HeaderID || key == HeaderTimestamp
}

// SetHeader sets a header, overwriting any existing value. A nil value
// removes the header. Reserved keys (id, timestamp) are ignored.
func (b *Builder) SetHeader(key string, value any) *Builder {
	if isReserved(key) {
		return b
	}
	if value == nil {
		return b.RemoveHeader(key)
	}
	b.headers[key] = value
	b.modified = true
	return b
}

// SetHeaderIfAbsent sets a header only when it is not already present
func (b *Builder) SetHeaderIfAbsent(key string, value any) *Builder {
	if _, exists := b.headers[key]; !exists {
		b.SetHeader(key, value)
	}
	return b
}

// RemoveHeader removes a header
func (b *Builder) RemoveHeader(key string) *Builder {
	if isReserved(key) {
		return b
	}
	if _, exists := b.headers[key]; exists {
		delete(b.headers, key)
		b.modified = true
	}
	return b
}

// CopyHeaders copies all non-reserved headers, overwriting existing values
func (b *Builder) CopyHeaders(headers map[string]any) *Builder {
	for k, v := range headers {
		b.SetHeader(k, v)
	}
	return b
}

// CopyHeadersIfAbsent copies headers that are not already present
func (b *Builder) CopyHeadersIfAbsent(headers map[string]any) *Builder {
	for k, v := range headers {
		b.SetHeaderIfAbsent(k, v)
	}
	return b
}

// SetCorrelationID sets the correlation ID header
func (b *Builder) SetCorrelationID(correlationID string) *Builder {
	return b.SetHeader(HeaderCorrelationID, correlationID)
}

// Build creates the message. It panics if the payload is nil.
func (b *Builder) Build() *Message {
	if b.original != nil && !b.modified {
		return b.original
	}
	if b.payload == nil {
		panic("message: payload must not be nil")
	}

	headers := maps.Clone(b.headers)
	headers[HeaderID] = uuid.New().String()
	headers[HeaderTimestamp] = time.Now().UTC()

	return &Message{
		payload: b.payload,
		headers: headers,
	}
}
