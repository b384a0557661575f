package selector

import (
	"reflect"
	"strings"
	"sync"
)

// Selector is a compiled selector expression. It is safe for concurrent use.
type Selector struct {
	expr string
	root node
}

// Compile parses a selector expression
func Compile(expr string) (*Selector, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, &SyntaxError{Expr: expr, Msg: "empty expression"}
	}
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{expr: expr, tokens: tokens}
	root, err := p.parse()
	if err != nil {
		return nil, err
	}
	return &Selector{expr: expr, root: root}, nil
}

// MustCompile is like Compile but panics on error
func MustCompile(expr string) *Selector {
	s, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the source expression
func (s *Selector) String() string {
	return s.expr
}

// Matches evaluates the selector against a header set. Unknown results
// (comparisons involving missing headers) do not match.
func (s *Selector) Matches(headers map[string]any) bool {
	b, ok := s.root.eval(headers).(bool)
	return ok && b
}

// Cache holds compiled selectors keyed by expression
type Cache struct {
	selectors sync.Map
}

// Get returns the compiled selector for expr, compiling it on first use
func (c *Cache) Get(expr string) (*Selector, error) {
	if s, ok := c.selectors.Load(expr); ok {
		return s.(*Selector), nil
	}
	s, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	actual, _ := c.selectors.LoadOrStore(expr, s)
	return actual.(*Selector), nil
}

// node evaluates to nil (SQL NULL / unknown), bool, float64 or string.
type node interface {
	eval(headers map[string]any) any
}

type literalNode struct{ value any }

func (n literalNode) eval(map[string]any) any { return n.value }

type identNode struct{ name string }

func (n identNode) eval(headers map[string]any) any {
	v, ok := headers[n.name]
	if !ok {
		return nil
	}
	return normalize(v)
}

// normalize maps header values onto the selector's value domain
func normalize(v any) any {
	if v == nil {
		return nil
	}
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return x
	case float64:
		return x
	case []byte:
		return string(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	// other types are not comparable in selectors
	return nil
}

type andNode struct{ left, right node }

func (n andNode) eval(headers map[string]any) any {
	l := n.left.eval(headers)
	if b, ok := l.(bool); ok && !b {
		return false
	}
	r := n.right.eval(headers)
	if b, ok := r.(bool); ok && !b {
		return false
	}
	lb, lok := l.(bool)
	rb, rok := r.(bool)
	if lok && rok {
		return lb && rb
	}
	return nil
}

type orNode struct{ left, right node }

func (n orNode) eval(headers map[string]any) any {
	l := n.left.eval(headers)
	if b, ok := l.(bool); ok && b {
		return true
	}
	r := n.right.eval(headers)
	if b, ok := r.(bool); ok && b {
		return true
	}
	_, lok := l.(bool)
	_, rok := r.(bool)
	if lok && rok {
		return false
	}
	return nil
}

type notNode struct{ operand node }

func (n notNode) eval(headers map[string]any) any {
	if b, ok := n.operand.eval(headers).(bool); ok {
		return !b
	}
	return nil
}

type compareNode struct {
	op          string
	left, right node
}

func (n compareNode) eval(headers map[string]any) any {
	l := n.left.eval(headers)
	r := n.right.eval(headers)
	if l == nil || r == nil {
		return nil
	}

	cmp, ok := compareValues(l, r)
	if !ok {
		// mismatched types only support inequality
		switch n.op {
		case "=":
			return false
		case "<>":
			return true
		}
		return nil
	}

	switch n.op {
	case "=":
		return cmp == 0
	case "<>":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return nil
}

// compareValues orders two values of the same kind
func compareValues(l, r any) (int, bool) {
	switch lv := l.(type) {
	case float64:
		rv, ok := r.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case lv < rv:
			return -1, true
		case lv > rv:
			return 1, true
		}
		return 0, true
	case string:
		rv, ok := r.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(lv, rv), true
	case bool:
		rv, ok := r.(bool)
		if !ok || lv != rv {
			return 1, ok
		}
		return 0, true
	}
	return 0, false
}

type isNullNode struct {
	operand node
	negate  bool
}

func (n isNullNode) eval(headers map[string]any) any {
	isNull := n.operand.eval(headers) == nil
	return isNull != n.negate
}

type likeNode struct {
	operand node
	pattern []likeElem
	negate  bool
}

func (n likeNode) eval(headers map[string]any) any {
	s, ok := n.operand.eval(headers).(string)
	if !ok {
		return nil
	}
	return matchLike(n.pattern, s) != n.negate
}

type inNode struct {
	operand node
	values  []any
	negate  bool
}

func (n inNode) eval(headers map[string]any) any {
	v := n.operand.eval(headers)
	if v == nil {
		return nil
	}
	for _, candidate := range n.values {
		if cmp, ok := compareValues(v, candidate); ok && cmp == 0 {
			return !n.negate
		}
	}
	return n.negate
}

type betweenNode struct {
	operand   node
	low, high node
	negate    bool
}

func (n betweenNode) eval(headers map[string]any) any {
	v := n.operand.eval(headers)
	low := n.low.eval(headers)
	high := n.high.eval(headers)
	if v == nil || low == nil || high == nil {
		return nil
	}
	lc, lok := compareValues(v, low)
	hc, hok := compareValues(v, high)
	if !lok || !hok {
		return nil
	}
	return (lc >= 0 && hc <= 0) != n.negate
}
