// Package message defines the immutable message exchanged by every channel.
//
// A Message pairs an arbitrary payload with a set of string-keyed headers.
// Messages are never modified in place; derive a new one with a Builder:
//
//	msg := message.WithPayload("hello").
//		SetHeader("priority", 5).
//		Build()
//
//	// Same payload, one header overridden
//	updated := message.FromMessage(msg).SetHeader("priority", 9).Build()
//
//	// New payload, original headers
//	converted := message.WithPayload(42).CopyHeaders(msg.Headers()).Build()
//
// Every built message gets fresh id and timestamp headers. These are
// reserved and cannot be set or copied through the builder.
package message
