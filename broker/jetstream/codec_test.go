package jetstream

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-channels/broker"
	"github.com/glimte/mmate-channels/message"
)

func TestEncode(t *testing.T) {
	msg := message.WithPayload(map[string]any{"order": "A-1"}).
		SetCorrelationID("corr-1").
		SetHeader("tenant", "acme").
		SetHeader("priority", 5).
		Build()

	out, err := encode("orders.created", msg)
	require.NoError(t, err)

	assert.Equal(t, "orders.created", out.Subject)
	assert.JSONEq(t, `{"order":"A-1"}`, string(out.Data))
	assert.Equal(t, msg.ID(), out.Header.Get(nats.MsgIdHdr))
	assert.Equal(t, "corr-1", out.Header.Get(HeaderCorrelationID))
	assert.Equal(t, ContentTypeJSON, out.Header.Get(HeaderContentType))
	assert.Equal(t, msg.Timestamp().Format(time.RFC3339Nano), out.Header.Get(HeaderTimestamp))
	assert.Equal(t, "acme", out.Header.Get("tenant"))
	assert.Equal(t, "5", out.Header.Get("priority"))
	assert.Equal(t, "priority", out.Header.Get(HeaderJSONKeys))
}

func TestDecode(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		in := message.WithPayload("hello").
			SetCorrelationID("corr-1").
			SetHeader("tenant", "acme").
			SetHeader("tags", []string{"a", "b"}).
			Build()

		out, err := encode("orders", in)
		require.NoError(t, err)

		msg, err := decode(out.Header, out.Data)
		require.NoError(t, err)

		assert.Equal(t, "hello", msg.Payload())
		assert.Equal(t, "corr-1", msg.CorrelationID())

		headers := msg.Headers()
		assert.Equal(t, "acme", headers["tenant"])
		assert.Equal(t, []any{"a", "b"}, headers["tags"])
		assert.Equal(t, in.ID(), headers[broker.HeaderSourceID])
		assert.Equal(t, ContentTypeText, headers[message.HeaderContentType])
		assert.NotContains(t, headers, HeaderJSONKeys)
		assert.NotContains(t, headers, nats.MsgIdHdr)
	})

	t.Run("bytes and untyped bodies", func(t *testing.T) {
		in, err := encode("orders", message.WithPayload([]byte{1, 2}).Build())
		require.NoError(t, err)
		msg, err := decode(in.Header, in.Data)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2}, msg.Payload())

		msg, err = decode(nats.Header{}, []byte("raw"))
		require.NoError(t, err)
		assert.Equal(t, []byte("raw"), msg.Payload())
	})

	t.Run("skips server headers", func(t *testing.T) {
		h := nats.Header{}
		h.Set("Nats-Sequence", "7")
		h.Set(HeaderContentType, ContentTypeText)
		msg, err := decode(h, []byte("x"))
		require.NoError(t, err)
		_, ok := msg.Header("Nats-Sequence")
		assert.False(t, ok)
	})

	t.Run("errors", func(t *testing.T) {
		h := nats.Header{}
		h.Set(HeaderContentType, "application/xml")
		_, err := decode(h, []byte("<a/>"))
		assert.Error(t, err)

		h.Set(HeaderContentType, ContentTypeJSON)
		_, err = decode(h, []byte("{"))
		assert.Error(t, err)

		_, err = decode(h, []byte("null"))
		assert.Error(t, err)

		h = nats.Header{}
		h.Set("k", "{bad")
		h.Set(HeaderJSONKeys, "k")
		_, err = decode(h, []byte("x"))
		assert.Error(t, err)
	})
}

func TestDurableName(t *testing.T) {
	assert.Equal(t, "mchannel_orders_created", durableName("mchannel", "orders.created"))
	assert.Equal(t, "mchannel_orders_star", durableName("mchannel", "orders.*"))
	assert.Equal(t, "app_orders_all", durableName("app", "orders.>"))
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil, "ORDERS", "orders")
	assert.Error(t, err)
}
