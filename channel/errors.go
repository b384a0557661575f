package channel

import "errors"

var (
	// ErrNilMessage is returned when sending a nil message
	ErrNilMessage = errors.New("channel: message must not be nil")

	// ErrNilClient is returned when a broker channel has no client
	ErrNilClient = errors.New("channel: broker client must not be nil")
)
