// Package rabbitmq implements broker.Client on top of RabbitMQ.
//
// This package includes:
//   - ConnectionManager: owns the AMQP connection and reconnects with exponential backoff
//   - ChannelPool: pools AMQP channels and replaces ones the broker closed
//   - Client: polls one queue with basic.get and publishes through an exchange
//
// Messages travel with native AMQP properties. The message id, timestamp and
// correlation id map to MessageId, Timestamp and CorrelationId; other headers
// go into the header table. The body encoding follows the payload type: raw
// bytes, text, or JSON for everything else.
//
// basic.get has no server-side filtering, so polls that carry a selector fail
// with broker.ErrSelectorNotSupported.
package rabbitmq
