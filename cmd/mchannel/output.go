package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glimte/mmate-channels/message"
)

// messageView is the printable form of a message
type messageView struct {
	ID            string         `json:"id" yaml:"id"`
	Timestamp     time.Time      `json:"timestamp" yaml:"timestamp"`
	CorrelationID string         `json:"correlationId,omitempty" yaml:"correlationId,omitempty"`
	Headers       map[string]any `json:"headers,omitempty" yaml:"headers,omitempty"`
	PayloadType   string         `json:"payloadType" yaml:"payloadType"`
	Payload       any            `json:"payload" yaml:"payload"`
}

func viewOf(msg *message.Message) messageView {
	headers := msg.Headers()
	delete(headers, message.HeaderID)
	delete(headers, message.HeaderTimestamp)
	delete(headers, message.HeaderCorrelationID)

	payload := msg.Payload()
	if b, ok := payload.([]byte); ok {
		payload = string(b)
	}

	return messageView{
		ID:            msg.ID(),
		Timestamp:     msg.Timestamp(),
		CorrelationID: msg.CorrelationID(),
		Headers:       headers,
		PayloadType:   fmt.Sprintf("%T", msg.Payload()),
		Payload:       payload,
	}
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}

// parseHeaders turns key=value pairs into headers
func parseHeaders(pairs []string) (map[string]any, error) {
	headers := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q, want key=value", pair)
		}
		headers[k] = v
	}
	return headers, nil
}

// parsePayload decodes raw as JSON when asked, otherwise keeps the text
func parsePayload(raw string, asJSON bool) (any, error) {
	if !asJSON {
		return raw, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if v == nil {
		return nil, fmt.Errorf("payload must not be null")
	}
	return v, nil
}
