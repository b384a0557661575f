// Package channel provides message channels with interceptor chains and
// datatype enforcement.
//
// Sending runs every interceptor's PreSend in order, then the underlying
// send, then PostSend on all interceptors and finally AfterCompletion in
// reverse order on those interceptors whose pre-hook ran. Receiving follows
// the same shape with PreReceive and PostReceive.
//
// A channel configured WithDatatypes only accepts payloads assignable to one
// of its types. Other payloads are converted with the conversion service when
// possible and rejected with message.ErrDeliveryRejected otherwise:
//
//	ch := channel.NewQueueChannel("orders", 100,
//		channel.WithDatatypes(reflect.TypeOf(0)),
//		channel.WithConversionService(convert.NewDefaultService()),
//	)
//	ch.Send(ctx, message.WithPayload("42").Build()) // delivered as int 42
//
// BrokerChannel polls a broker.Client. Its ReceiveTimeout passes the timeout
// with the individual poll, so concurrent receives never observe each
// other's timeouts.
package channel
