package selector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectorMatches(t *testing.T) {
	headers := map[string]any{
		"type":     "order.created",
		"priority": 7,
		"amount":   25.5,
		"region":   "eu",
		"urgent":   true,
		"quote":    "it's",
		"raw":      []byte("bytes"),
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"priority = 7", true},
		{"priority <> 7", false},
		{"priority > 5", true},
		{"priority >= 7", true},
		{"priority < 7", false},
		{"priority <= 6", false},
		{"amount > 25", true},
		{"region = 'eu'", true},
		{"region = 'us'", false},
		{"urgent = TRUE", true},
		{"urgent", true},
		{"NOT urgent", false},
		{"priority > 5 AND region = 'eu'", true},
		{"priority > 9 OR region = 'eu'", true},
		{"priority > 9 OR region = 'us'", false},
		{"NOT (priority > 9)", true},
		{"type LIKE 'order.%'", true},
		{"type LIKE 'order._reated'", true},
		{"type NOT LIKE 'invoice%'", true},
		{"type LIKE 'order'", false},
		{"region IN ('us', 'eu')", true},
		{"region NOT IN ('us', 'eu')", false},
		{"priority IN (1, 7)", true},
		{"priority BETWEEN 5 AND 10", true},
		{"priority NOT BETWEEN 5 AND 10", false},
		{"missing IS NULL", true},
		{"region IS NOT NULL", true},
		{"quote = 'it''s'", true},
		{"raw = 'bytes'", true},
		{"priority = 'seven'", false},
		{"priority > -1", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Matches(headers))
		})
	}
}

func TestSelectorNullSemantics(t *testing.T) {
	headers := map[string]any{"a": 1}

	tests := []struct {
		expr string
		want bool
	}{
		// comparisons with a missing header are unknown
		{"missing = 1", false},
		{"missing <> 1", false},
		{"NOT (missing = 1)", false},
		// unknown OR true is true, unknown AND false is false
		{"missing = 1 OR a = 1", true},
		{"NOT (missing = 1 AND a = 2)", true},
		{"missing LIKE '%'", false},
		{"missing IN ('x')", false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, MustCompile(tt.expr).Matches(headers))
		})
	}
}

func TestLikeEscape(t *testing.T) {
	s := MustCompile(`code LIKE '100!%' ESCAPE '!'`)

	assert.True(t, s.Matches(map[string]any{"code": "100%"}))
	assert.False(t, s.Matches(map[string]any{"code": "1000"}))
}

func TestCompileErrors(t *testing.T) {
	tests := []string{
		"",
		"a =",
		"a = 'unterminated",
		"(a = 1",
		"a NOT 5",
		"a IN (1, 2",
		"a BETWEEN 1",
		"a LIKE 5",
		"a = 1 b",
		"a # 1",
		"a IS 5",
		`a LIKE 'x' ESCAPE 'ab'`,
	}

	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			_, err := Compile(expr)
			require.Error(t, err)

			var syntaxErr *SyntaxError
			assert.True(t, errors.As(err, &syntaxErr))
		})
	}

	assert.Panics(t, func() { MustCompile("a =") })
}

func TestCache(t *testing.T) {
	var cache Cache

	first, err := cache.Get("a = 1")
	require.NoError(t, err)
	second, err := cache.Get("a = 1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "a = 1", first.String())

	_, err = cache.Get("a =")
	assert.Error(t, err)
}
