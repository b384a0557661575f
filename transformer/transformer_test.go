package transformer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-channels/convert"
	"github.com/glimte/mmate-channels/message"
)

func returning(result any) MessageProcessor {
	return ProcessorFunc(func(context.Context, *message.Message) (any, error) {
		return result, nil
	})
}

func mustNew(t *testing.T, p MessageProcessor, opts ...Option) *Transformer {
	t.Helper()
	tr, err := New("enricher", p, opts...)
	require.NoError(t, err)
	return tr
}

type order struct {
	ID string
}

func TestNew(t *testing.T) {
	_, err := New("x", nil)
	assert.ErrorIs(t, err, ErrNilProcessor)

	tr := mustNew(t, returning(nil))
	assert.Equal(t, "enricher", tr.Name())
}

func TestTransform(t *testing.T) {
	ctx := context.Background()
	input := message.WithPayload("body").
		SetHeader("a", "1").
		SetCorrelationID("corr").
		Build()

	t.Run("nil result drops the message", func(t *testing.T) {
		var nilOrder *order
		var nilMap map[string]any
		for _, result := range []any{nil, nilOrder, nilMap} {
			out, err := mustNew(t, returning(result)).Transform(ctx, input)
			assert.NoError(t, err)
			assert.Nil(t, out)
		}
	})

	t.Run("message result passes through", func(t *testing.T) {
		other := message.WithPayload(42).Build()
		out, err := mustNew(t, returning(other)).Transform(ctx, input)
		require.NoError(t, err)
		assert.Same(t, other, out)
	})

	t.Run("properties become headers", func(t *testing.T) {
		out, err := mustNew(t, returning(message.Properties{"a": "2", "b": "3"})).Transform(ctx, input)
		require.NoError(t, err)

		assert.Equal(t, "body", out.Payload())
		headers := out.Headers()
		assert.Equal(t, "2", headers["a"])
		assert.Equal(t, "3", headers["b"])
		assert.Equal(t, "corr", headers[message.HeaderCorrelationID])
	})

	t.Run("maps become headers", func(t *testing.T) {
		out, err := mustNew(t, returning(map[string]any{"b": 7, "a": nil})).Transform(ctx, input)
		require.NoError(t, err)

		assert.Equal(t, "body", out.Payload())
		headers := out.Headers()
		assert.Equal(t, 7, headers["b"])
		assert.NotContains(t, headers, "a")
	})

	t.Run("interface keyed maps with string keys become headers", func(t *testing.T) {
		out, err := mustNew(t, returning(map[any]any{"b": true})).Transform(ctx, input)
		require.NoError(t, err)
		v, _ := out.Header("b")
		assert.Equal(t, true, v)
	})

	t.Run("non-string keys fail", func(t *testing.T) {
		for _, result := range []any{
			map[int]string{1: "x"},
			map[any]any{"ok": 1, 2: "bad"},
			map[any]any{nil: "bad"},
		} {
			out, err := mustNew(t, returning(result)).Transform(ctx, input)
			assert.Nil(t, out)
			require.Error(t, err)
			assert.ErrorIs(t, err, message.ErrHeaderKeyNotString)

			var handling *message.HandlingError
			require.ErrorAs(t, err, &handling)
			assert.Equal(t, "enricher", handling.Component)
			assert.Same(t, input, handling.Message)
			assert.Contains(t, err.Error(), "enricher")
			assert.Contains(t, err.Error(), "header keys must be strings")
		}
	})

	t.Run("map result for a map payload becomes the payload", func(t *testing.T) {
		in := message.WithPayload(map[string]any{"x": 1}).SetHeader("a", "1").Build()
		result := map[string]any{"y": 2}

		out, err := mustNew(t, returning(result)).Transform(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, result, out.Payload())
		v, _ := out.Header("a")
		assert.Equal(t, "1", v)
	})

	t.Run("properties result for a properties payload becomes the payload", func(t *testing.T) {
		in := message.WithPayload(message.Properties{"x": "1"}).Build()
		result := message.Properties{"y": "2"}

		out, err := mustNew(t, returning(result)).Transform(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, result, out.Payload())
	})

	t.Run("properties result for a plain map payload becomes headers", func(t *testing.T) {
		in := message.WithPayload(map[string]any{"x": 1}).Build()

		out, err := mustNew(t, returning(message.Properties{"y": "2"})).Transform(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"x": 1}, out.Payload())
		v, _ := out.Header("y")
		assert.Equal(t, "2", v)
	})

	t.Run("map result for a properties payload becomes the payload", func(t *testing.T) {
		in := message.WithPayload(message.Properties{"x": "1"}).Build()
		result := map[string]any{"y": 2}

		out, err := mustNew(t, returning(result)).Transform(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, result, out.Payload())
	})

	t.Run("other results become the payload", func(t *testing.T) {
		for _, result := range []any{"upper", 3, order{ID: "A"}, &order{ID: "B"}, []string{"x"}} {
			out, err := mustNew(t, returning(result)).Transform(ctx, input)
			require.NoError(t, err)
			assert.Equal(t, result, out.Payload())

			headers := out.Headers()
			assert.Equal(t, "1", headers["a"])
			assert.Equal(t, "corr", headers[message.HeaderCorrelationID])
			assert.NotEqual(t, input.ID(), out.ID())
		}
	})

	t.Run("processor errors are wrapped", func(t *testing.T) {
		boom := errors.New("boom")
		tr := mustNew(t, ProcessorFunc(func(context.Context, *message.Message) (any, error) {
			return nil, boom
		}))

		_, err := tr.Transform(ctx, input)
		assert.ErrorIs(t, err, boom)
		var handling *message.HandlingError
		require.ErrorAs(t, err, &handling)
		assert.Equal(t, "enricher", handling.Component)
	})
}

func TestClassify(t *testing.T) {
	var nilSlice []int
	tests := []struct {
		name    string
		result  any
		payload any
		want    resultKind
	}{
		{"nil", nil, "p", resultAbsent},
		{"nil slice", nilSlice, "p", resultAbsent},
		{"message", message.WithPayload(1).Build(), "p", resultMessage},
		{"properties", message.Properties{}, "p", resultHeaders},
		{"map", map[string]int{}, 1, resultHeaders},
		{"map over map", map[string]int{}, map[int]int{}, resultPayload},
		{"scalar", 1.5, "p", resultPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.result, tt.payload))
		})
	}
}

func TestPayloadProcessor(t *testing.T) {
	ctx := context.Background()
	upper := NewPayloadProcessor(func(_ context.Context, s string) (any, error) {
		return strings.ToUpper(s), nil
	})

	t.Run("typed payload", func(t *testing.T) {
		out, err := mustNew(t, upper).Transform(ctx, message.WithPayload("abc").Build())
		require.NoError(t, err)
		assert.Equal(t, "ABC", out.Payload())
	})

	t.Run("without a conversion service", func(t *testing.T) {
		p := NewPayloadProcessor(func(_ context.Context, n int) (any, error) { return n * 2, nil })
		_, err := mustNew(t, p).Transform(ctx, message.WithPayload("21").Build())
		assert.Error(t, err)
	})

	t.Run("converts through the injected service", func(t *testing.T) {
		p := NewPayloadProcessor(func(_ context.Context, n int) (any, error) { return n * 2, nil })
		tr := mustNew(t, p, WithConversionService(convert.NewDefaultService()))

		out, err := tr.Transform(ctx, message.WithPayload("21").Build())
		require.NoError(t, err)
		assert.Equal(t, 42, out.Payload())
	})

	t.Run("conversion failures surface", func(t *testing.T) {
		p := NewPayloadProcessor(func(_ context.Context, n int) (any, error) { return n, nil })
		tr := mustNew(t, p, WithConversionService(convert.NewDefaultService()))

		_, err := tr.Transform(ctx, message.WithPayload("not a number").Build())
		var convErr *convert.ConversionError
		assert.ErrorAs(t, err, &convErr)
	})
}
