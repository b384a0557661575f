package jetstream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/glimte/mmate-channels/broker"
	"github.com/glimte/mmate-channels/message"
)

// Header names carrying message properties
const (
	HeaderCorrelationID = "Correlation-Id"
	HeaderTimestamp     = "Timestamp"
	HeaderContentType   = "Content-Type"

	// HeaderJSONKeys lists the headers whose values are JSON encoded
	HeaderJSONKeys = "Json-Headers"
)

// Content types used on the wire
const (
	ContentTypeBytes = "application/octet-stream"
	ContentTypeText  = "text/plain"
	ContentTypeJSON  = "application/json"
)

func encode(subject string, msg *message.Message) (*nats.Msg, error) {
	out := nats.NewMsg(subject)
	out.Header.Set(nats.MsgIdHdr, msg.ID())
	out.Header.Set(HeaderTimestamp, msg.Timestamp().Format(time.RFC3339Nano))
	if id := msg.CorrelationID(); id != "" {
		out.Header.Set(HeaderCorrelationID, id)
	}

	switch p := msg.Payload().(type) {
	case []byte:
		out.Header.Set(HeaderContentType, ContentTypeBytes)
		out.Data = p
	case string:
		out.Header.Set(HeaderContentType, ContentTypeText)
		out.Data = []byte(p)
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload of type %T: %w", p, err)
		}
		out.Header.Set(HeaderContentType, ContentTypeJSON)
		out.Data = data
	}

	var jsonKeys []string
	for k, v := range msg.Headers() {
		switch k {
		case message.HeaderID, message.HeaderTimestamp, message.HeaderCorrelationID, message.HeaderContentType:
			continue
		}
		if s, ok := v.(string); ok {
			out.Header.Set(k, s)
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode header %s: %w", k, err)
		}
		out.Header.Set(k, string(data))
		jsonKeys = append(jsonKeys, k)
	}
	if len(jsonKeys) > 0 {
		out.Header.Set(HeaderJSONKeys, strings.Join(jsonKeys, ","))
	}

	return out, nil
}

var transportHeaders = map[string]bool{
	nats.MsgIdHdr:       true,
	HeaderTimestamp:     true,
	HeaderCorrelationID: true,
	HeaderContentType:   true,
	HeaderJSONKeys:      true,
}

func decode(header nats.Header, data []byte) (*message.Message, error) {
	contentType := header.Get(HeaderContentType)

	var payload any
	switch contentType {
	case ContentTypeBytes:
		payload = data
	case ContentTypeText:
		payload = string(data)
	case ContentTypeJSON:
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode json body: %w", err)
		}
	case "":
		payload = data
	default:
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
	if payload == nil {
		return nil, fmt.Errorf("message %s has a null body", header.Get(nats.MsgIdHdr))
	}

	jsonKeys := map[string]bool{}
	if keys := header.Get(HeaderJSONKeys); keys != "" {
		for _, k := range strings.Split(keys, ",") {
			jsonKeys[k] = true
		}
	}

	b := message.WithPayload(payload)
	for k, values := range header {
		if transportHeaders[k] || len(values) == 0 || strings.HasPrefix(k, "Nats-") {
			continue
		}
		if !jsonKeys[k] {
			b.SetHeader(k, values[0])
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(values[0]), &v); err != nil {
			return nil, fmt.Errorf("failed to decode header %s: %w", k, err)
		}
		b.SetHeader(k, v)
	}

	if id := header.Get(HeaderCorrelationID); id != "" {
		b.SetCorrelationID(id)
	}
	if id := header.Get(nats.MsgIdHdr); id != "" {
		b.SetHeader(broker.HeaderSourceID, id)
	}
	if ts := header.Get(HeaderTimestamp); ts != "" {
		b.SetHeader(broker.HeaderSourceTimestamp, ts)
	}
	if contentType != "" {
		b.SetHeader(message.HeaderContentType, contentType)
	}
	return b.Build(), nil
}
