package convert

import (
	"encoding/json"
	"strconv"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// NewDefaultService creates a registry with the built-in converters
func NewDefaultService() *Registry {
	r := NewRegistry()
	RegisterDefaults(r)
	RegisterCloudEvents(r)
	return r
}

// RegisterDefaults registers scalar, byte and JSON map converters
func RegisterDefaults(r *Registry) {
	_ = Register(r, func(s string) (int, error) {
		return strconv.Atoi(strings.TrimSpace(s))
	})
	_ = Register(r, func(s string) (int64, error) {
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	})
	_ = Register(r, func(s string) (float64, error) {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	})
	_ = Register(r, func(s string) (bool, error) {
		return strconv.ParseBool(strings.TrimSpace(s))
	})
	_ = Register(r, func(i int) (string, error) {
		return strconv.Itoa(i), nil
	})
	_ = Register(r, func(i int64) (string, error) {
		return strconv.FormatInt(i, 10), nil
	})
	_ = Register(r, func(f float64) (string, error) {
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	})
	_ = Register(r, func(b bool) (string, error) {
		return strconv.FormatBool(b), nil
	})
	_ = Register(r, func(b bool) (int, error) {
		if b {
			return 1, nil
		}
		return 0, nil
	})
	_ = Register(r, func(b []byte) (string, error) {
		return string(b), nil
	})
	_ = Register(r, func(s string) ([]byte, error) {
		return []byte(s), nil
	})
	_ = Register(r, func(b []byte) (map[string]any, error) {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		return m, nil
	})
	_ = Register(r, func(s string) (map[string]any, error) {
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, err
		}
		return m, nil
	})
}

// RegisterCloudEvents registers converters between structured-mode JSON and
// CloudEvents events
func RegisterCloudEvents(r *Registry) {
	_ = Register(r, func(b []byte) (cloudevents.Event, error) {
		event := cloudevents.NewEvent()
		if err := json.Unmarshal(b, &event); err != nil {
			return cloudevents.Event{}, err
		}
		if err := event.Validate(); err != nil {
			return cloudevents.Event{}, err
		}
		return event, nil
	})
	_ = Register(r, func(s string) (cloudevents.Event, error) {
		event := cloudevents.NewEvent()
		if err := json.Unmarshal([]byte(s), &event); err != nil {
			return cloudevents.Event{}, err
		}
		if err := event.Validate(); err != nil {
			return cloudevents.Event{}, err
		}
		return event, nil
	})
	_ = Register(r, func(e cloudevents.Event) ([]byte, error) {
		return json.Marshal(e)
	})
}
