package message

import (
	"errors"
	"fmt"
)

var (
	// ErrDeliveryRejected is returned when a channel refuses a message
	ErrDeliveryRejected = errors.New("message: delivery rejected")

	// ErrHeaderKeyNotString is returned when a header map uses non-string keys
	ErrHeaderKeyNotString = errors.New("message: header keys must be strings")
)

// DeliveryError reports a message that could not be delivered to a channel
type DeliveryError struct {
	Channel     string   // Channel name
	PayloadType string   // Runtime type of the rejected payload
	Message     *Message // The failed message
	Err         error    // Underlying cause
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("channel %q: cannot deliver payload of type %s: %v", e.Channel, e.PayloadType, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// HandlingError reports a failure while a component handled a message
type HandlingError struct {
	Component string   // Name of the handling component
	Message   *Message // The message being handled
	Err       error    // Underlying cause
}

func (e *HandlingError) Error() string {
	return fmt.Sprintf("%s: failed to handle message %s: %v", e.Component, messageID(e.Message), e.Err)
}

func (e *HandlingError) Unwrap() error {
	return e.Err
}

func messageID(m *Message) string {
	if m == nil {
		return "<nil>"
	}
	return m.ID()
}
