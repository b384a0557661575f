package rabbitmq

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-channels/broker"
	"github.com/glimte/mmate-channels/message"
)

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestEncode(t *testing.T) {
	t.Run("maps reserved headers to properties", func(t *testing.T) {
		msg := message.WithPayload("hello").
			SetCorrelationID("corr-1").
			SetHeader("tenant", "acme").
			Build()

		pub, err := encode(msg)
		require.NoError(t, err)

		assert.Equal(t, msg.ID(), pub.MessageId)
		assert.Equal(t, msg.Timestamp(), pub.Timestamp)
		assert.Equal(t, "corr-1", pub.CorrelationId)
		assert.Equal(t, ContentTypeText, pub.ContentType)
		assert.Equal(t, []byte("hello"), pub.Body)
		assert.Equal(t, amqp.Table{"tenant": "acme"}, pub.Headers)
	})

	t.Run("picks the content type from the payload", func(t *testing.T) {
		pub, err := encode(message.WithPayload([]byte{1, 2}).Build())
		require.NoError(t, err)
		assert.Equal(t, ContentTypeBytes, pub.ContentType)

		pub, err = encode(message.WithPayload(point{1, 2}).Build())
		require.NoError(t, err)
		assert.Equal(t, ContentTypeJSON, pub.ContentType)
		assert.JSONEq(t, `{"x":1,"y":2}`, string(pub.Body))
	})

	t.Run("stringifies values tables cannot carry", func(t *testing.T) {
		msg := message.WithPayload("x").
			SetHeader("dur", 2*time.Second).
			SetHeader("nested", map[string]any{"p": point{1, 2}}).
			Build()

		pub, err := encode(msg)
		require.NoError(t, err)
		assert.Equal(t, "2s", pub.Headers["dur"])
		assert.Equal(t, amqp.Table{"p": "{1 2}"}, pub.Headers["nested"])
		assert.NoError(t, pub.Headers.Validate())
	})

	t.Run("fails on unencodable payloads", func(t *testing.T) {
		_, err := encode(message.WithPayload(make(chan int)).Build())
		assert.Error(t, err)
	})
}

func TestDecode(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("json body", func(t *testing.T) {
		msg, err := decode(amqp.Delivery{
			MessageId:     "m-1",
			CorrelationId: "corr-1",
			Timestamp:     ts,
			ContentType:   ContentTypeJSON,
			Headers:       amqp.Table{"tenant": "acme", "meta": amqp.Table{"k": "v"}},
			Body:          []byte(`{"x":1}`),
		})
		require.NoError(t, err)

		assert.Equal(t, map[string]any{"x": float64(1)}, msg.Payload())
		assert.Equal(t, "corr-1", msg.CorrelationID())
		assert.NotEqual(t, "m-1", msg.ID())

		headers := msg.Headers()
		assert.Equal(t, "m-1", headers[broker.HeaderSourceID])
		assert.Equal(t, ts.Format(time.RFC3339Nano), headers[broker.HeaderSourceTimestamp])
		assert.Equal(t, "acme", headers["tenant"])
		assert.Equal(t, map[string]any{"k": "v"}, headers["meta"])
		assert.Equal(t, ContentTypeJSON, headers[message.HeaderContentType])
	})

	t.Run("text and bytes", func(t *testing.T) {
		msg, err := decode(amqp.Delivery{ContentType: ContentTypeText, Body: []byte("hi")})
		require.NoError(t, err)
		assert.Equal(t, "hi", msg.Payload())

		msg, err = decode(amqp.Delivery{ContentType: ContentTypeBytes, Body: []byte{7}})
		require.NoError(t, err)
		assert.Equal(t, []byte{7}, msg.Payload())
	})

	t.Run("untyped non-json body stays bytes", func(t *testing.T) {
		msg, err := decode(amqp.Delivery{Body: []byte("not json")})
		require.NoError(t, err)
		assert.Equal(t, []byte("not json"), msg.Payload())
	})

	t.Run("rejects unknown content types", func(t *testing.T) {
		_, err := decode(amqp.Delivery{ContentType: "application/xml", Body: []byte("<a/>")})
		assert.ErrorIs(t, err, ErrUnsupportedContentType)
	})

	t.Run("rejects null bodies", func(t *testing.T) {
		_, err := decode(amqp.Delivery{ContentType: ContentTypeJSON, Body: []byte("null")})
		assert.Error(t, err)
	})

	t.Run("round trip", func(t *testing.T) {
		in := message.WithPayload("payload").SetHeader("n", int64(3)).Build()
		pub, err := encode(in)
		require.NoError(t, err)

		out, err := decode(amqp.Delivery{
			MessageId:   pub.MessageId,
			Timestamp:   pub.Timestamp,
			ContentType: pub.ContentType,
			Headers:     pub.Headers,
			Body:        pub.Body,
		})
		require.NoError(t, err)
		assert.Equal(t, "payload", out.Payload())
		v, _ := out.Header("n")
		assert.Equal(t, int64(3), v)
		v, _ = out.Header(broker.HeaderSourceID)
		assert.Equal(t, in.ID(), v)
	})
}
