package expression

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

type node interface {
	eval(data map[string]any) (any, error)
}

type literalNode struct{ value any }

func (n literalNode) eval(map[string]any) (any, error) { return n.value, nil }

type pathNode struct{ segments []string }

func (n pathNode) eval(data map[string]any) (any, error) {
	return Lookup(data, n.segments...), nil
}

type listNode struct{ items []node }

func (n listNode) eval(data map[string]any) (any, error) {
	out := make([]any, 0, len(n.items))

	for _, item := range n.items {
		v, err := item.eval(data)
		if err != nil {
			return nil, err
		}

		out = append(out, v)
	}

	return out, nil
}

type notNode struct{ operand node }

func (n notNode) eval(data map[string]any) (any, error) {
	v, err := n.operand.eval(data)
	if err != nil {
		return nil, err
	}

	return !Truthy(v), nil
}

type logicalNode struct {
	op          string
	left, right node
}

func (n logicalNode) eval(data map[string]any) (any, error) {
	l, err := n.left.eval(data)
	if err != nil {
		return nil, err
	}

	if n.op == "&&" && !Truthy(l) {
		return false, nil
	}

	if n.op == "||" && Truthy(l) {
		return true, nil
	}

	r, err := n.right.eval(data)
	if err != nil {
		return nil, err
	}

	return Truthy(r), nil
}

type compareNode struct {
	op          string
	left, right node
}

func (n compareNode) eval(data map[string]any) (any, error) {
	l, err := n.left.eval(data)
	if err != nil {
		return nil, err
	}

	r, err := n.right.eval(data)
	if err != nil {
		return nil, err
	}

	return Compare(n.op, l, r)
}

type callNode struct {
	name string
	fn   func(any) any
	arg  node
}

func (n callNode) eval(data map[string]any) (any, error) {
	v, err := n.arg.eval(data)
	if err != nil {
		return nil, err
	}

	return n.fn(v), nil
}

var functions = map[string]func(any) any{
	"length": func(v any) any {
		switch t := v.(type) {
		case string:
			return float64(len(t))
		case []any:
			return float64(len(t))
		case map[string]any:
			return float64(len(t))
		default:
			return float64(0)
		}
	},
	"lower": func(v any) any {
		if s, ok := v.(string); ok {
			return strings.ToLower(s)
		}

		return v
	},
	"upper": func(v any) any {
		if s, ok := v.(string); ok {
			return strings.ToUpper(s)
		}

		return v
	},
	"exists": func(v any) any { return v != nil },
}

// Lookup walks data along path. Missing keys and non-map intermediates yield nil.
// Numeric segments index into slices.
func Lookup(data map[string]any, path ...string) any {
	var cur any = data

	for _, segment := range path {
		switch t := cur.(type) {
		case map[string]any:
			cur = t[segment]
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil
			}

			cur = t[idx]
		default:
			return nil
		}
	}

	return cur
}

// LookupPath is Lookup over a dotted path.
func LookupPath(data map[string]any, path string) any {
	if path == "" {
		return data
	}

	return Lookup(data, strings.Split(path, ".")...)
}

// Compare applies a binary operator. Ordering operators on values that are not
// both numbers or both strings evaluate to false.
func Compare(op string, left, right any) (bool, error) {
	switch op {
	case "==", "eq":
		return Equal(left, right), nil
	case "!=", "ne":
		return !Equal(left, right), nil
	case ">", "gt":
		return order(left, right, func(c int) bool { return c > 0 }), nil
	case ">=", "gte":
		return order(left, right, func(c int) bool { return c >= 0 }), nil
	case "<", "lt":
		return order(left, right, func(c int) bool { return c < 0 }), nil
	case "<=", "lte":
		return order(left, right, func(c int) bool { return c <= 0 }), nil
	case "in":
		return contains(right, left), nil
	case "contains":
		return contains(left, right), nil
	case "exists":
		return left != nil, nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrSyntax, op)
	}
}

// Equal compares numbers numerically and everything else structurally.
func Equal(a, b any) bool {
	if af, ok := toNumber(a); ok {
		if bf, ok := toNumber(b); ok {
			return af == bf
		}
	}

	return reflect.DeepEqual(a, b)
}

func order(a, b any, pred func(int) bool) bool {
	if af, ok := toNumber(a); ok {
		if bf, ok := toNumber(b); ok {
			switch {
			case af < bf:
				return pred(-1)
			case af > bf:
				return pred(1)
			default:
				return pred(0)
			}
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)

	if aok && bok {
		return pred(strings.Compare(as, bs))
	}

	return false
}

func contains(container, item any) bool {
	switch t := container.(type) {
	case string:
		s, ok := item.(string)

		return ok && strings.Contains(t, s)
	case []any:
		for _, v := range t {
			if Equal(v, item) {
				return true
			}
		}
	case []string:
		s, ok := item.(string)
		if !ok {
			return false
		}

		for _, v := range t {
			if v == s {
				return true
			}
		}
	case map[string]any:
		s, ok := item.(string)
		if !ok {
			return false
		}

		_, found := t[s]

		return found
	}

	return false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Truthy maps a value onto a boolean: nil, false, zero, "" and empty
// collections are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}

	if n, ok := toNumber(v); ok {
		return n != 0
	}

	return true
}
