package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-channels/broker"
	"github.com/glimte/mmate-channels/message"
)

// Content types used on the wire
const (
	ContentTypeBytes = "application/octet-stream"
	ContentTypeText  = "text/plain"
	ContentTypeJSON  = "application/json"
)

// encode maps a message onto an AMQP publishing. Reserved headers travel as
// native properties; header values AMQP tables cannot carry are stringified.
func encode(msg *message.Message) (amqp.Publishing, error) {
	pub := amqp.Publishing{
		MessageId:     msg.ID(),
		Timestamp:     msg.Timestamp(),
		CorrelationId: msg.CorrelationID(),
		DeliveryMode:  amqp.Persistent,
		Headers:       amqp.Table{},
	}

	switch p := msg.Payload().(type) {
	case []byte:
		pub.ContentType = ContentTypeBytes
		pub.Body = p
	case string:
		pub.ContentType = ContentTypeText
		pub.Body = []byte(p)
	default:
		body, err := json.Marshal(p)
		if err != nil {
			return amqp.Publishing{}, fmt.Errorf("failed to encode payload of type %T: %w", p, err)
		}
		pub.ContentType = ContentTypeJSON
		pub.Body = body
	}

	for k, v := range msg.Headers() {
		switch k {
		case message.HeaderID, message.HeaderTimestamp, message.HeaderCorrelationID, message.HeaderContentType:
			continue
		}
		pub.Headers[k] = tableValue(v)
	}

	return pub, nil
}

func tableValue(v any) any {
	switch tv := v.(type) {
	case nil, bool, string, []byte, time.Time,
		int, int8, int16, int32, int64, uint8,
		float32, float64:
		return v
	case uint16:
		return int64(tv)
	case uint32:
		return int64(tv)
	case amqp.Decimal, amqp.Table:
		return v
	case map[string]any:
		t := amqp.Table{}
		for k, e := range tv {
			t[k] = tableValue(e)
		}
		return t
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = tableValue(e)
		}
		return out
	default:
		return fmt.Sprint(v)
	}
}

// decode rebuilds a message from a delivery
func decode(d amqp.Delivery) (*message.Message, error) {
	var payload any
	switch d.ContentType {
	case ContentTypeBytes:
		payload = d.Body
	case ContentTypeText:
		payload = string(d.Body)
	case ContentTypeJSON, "":
		if err := json.Unmarshal(d.Body, &payload); err != nil {
			if d.ContentType != "" {
				return nil, fmt.Errorf("failed to decode json body: %w", err)
			}
			// untyped bodies from foreign publishers
			payload = d.Body
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, d.ContentType)
	}
	if payload == nil {
		return nil, fmt.Errorf("delivery %s has a null body", d.MessageId)
	}

	b := message.WithPayload(payload)
	for k, v := range d.Headers {
		if t, ok := v.(amqp.Table); ok {
			v = map[string]any(t)
		}
		b.SetHeader(k, v)
	}
	if d.CorrelationId != "" {
		b.SetCorrelationID(d.CorrelationId)
	}
	if d.MessageId != "" {
		b.SetHeader(broker.HeaderSourceID, d.MessageId)
	}
	if !d.Timestamp.IsZero() {
		b.SetHeader(broker.HeaderSourceTimestamp, d.Timestamp.Format(time.RFC3339Nano))
	}
	if d.ContentType != "" {
		b.SetHeader(message.HeaderContentType, d.ContentType)
	}
	return b.Build(), nil
}
