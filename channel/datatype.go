package channel

import (
	"errors"
	"reflect"

	"github.com/glimte/mmate-channels/convert"
	"github.com/glimte/mmate-channels/message"
)

// datatypes is the accepted-type policy of a channel
type datatypes struct {
	types     []reflect.Type
	converter convert.Service
}

func newDatatypes(types []reflect.Type, converter convert.Service) *datatypes {
	accepted := make([]reflect.Type, 0, len(types))
	for _, t := range types {
		if t != nil {
			accepted = append(accepted, t)
		}
	}
	return &datatypes{types: accepted, converter: converter}
}

// matches reports whether t is assignable to any accepted type
func (d *datatypes) matches(t reflect.Type) bool {
	for _, accepted := range d.types {
		if t.AssignableTo(accepted) {
			return true
		}
	}
	return false
}

// accept returns msg unchanged when its payload is acceptable, a rebuilt
// message carrying the payload converted to the first convertible accepted
// type, or a DeliveryError. A converter failure is still a rejection and
// keeps the conversion error in the chain.
func (d *datatypes) accept(channelName string, msg *message.Message) (*message.Message, error) {
	if len(d.types) == 0 {
		return msg, nil
	}

	payload := msg.Payload()
	payloadType := reflect.TypeOf(payload)
	if d.matches(payloadType) {
		return msg, nil
	}

	if d.converter != nil {
		for _, target := range d.types {
			if !d.converter.CanConvert(payload, target) {
				continue
			}
			converted, err := d.converter.Convert(payload, target)
			if err != nil {
				return nil, &message.DeliveryError{
					Channel:     channelName,
					PayloadType: payloadType.String(),
					Message:     msg,
					Err:         errors.Join(message.ErrDeliveryRejected, err),
				}
			}
			return message.WithPayload(converted).CopyHeaders(msg.Headers()).Build(), nil
		}
	}

	return nil, &message.DeliveryError{
		Channel:     channelName,
		PayloadType: payloadType.String(),
		Message:     msg,
		Err:         message.ErrDeliveryRejected,
	}
}
