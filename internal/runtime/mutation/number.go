package mutation

import (
	"encoding/json"
	"math"
	"reflect"
)

type number struct {
	i       int64
	f       float64
	isFloat bool
	// template is the original value; integer results are converted back to
	// its type.
	template any
}

func (n number) float() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

func (n number) equal(o number) bool {
	if !n.isFloat && !o.isFloat {
		return n.i == o.i
	}
	return n.float() == o.float()
}

// IsNumeric reports whether v is a Go number or a json.Number.
func IsNumeric(v any) bool {
	_, ok := toNumber(v)
	return ok
}

func toNumber(v any) (number, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return number{i: i, template: int64(0)}, true
		}
		if f, err := n.Float64(); err == nil {
			return number{f: f, isFloat: true}, true
		}
		return number{}, false
	case float32:
		return number{f: float64(n), isFloat: true}, true
	case float64:
		return number{f: n, isFloat: true}, true
	}

	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return number{}, false
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number{i: rv.Int(), template: v}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return number{f: float64(u), isFloat: true}, true
		}
		return number{i: int64(u), template: v}, true
	}
	return number{}, false
}

type binaryOp struct {
	ints   func(a, b int64) (int64, bool)
	floats func(a, b float64) float64
}

var (
	add = binaryOp{
		ints: func(a, b int64) (int64, bool) {
			sum := a + b
			return sum, (sum > a) == (b > 0)
		},
		floats: func(a, b float64) float64 { return a + b },
	}
	mul = binaryOp{
		ints: func(a, b int64) (int64, bool) {
			if a == 0 || b == 0 {
				return 0, true
			}
			product := a * b
			return product, product/b == a && !(a == -1 && b == math.MinInt64) && !(b == -1 && a == math.MinInt64)
		},
		floats: func(a, b float64) float64 { return a * b },
	}
)

// arithmetic implements $inc and $mul: a missing field counts as zero, a
// non-numeric field or operand leaves the field unchanged.
func arithmetic(current any, present bool, operand any, op binaryOp) (any, bool) {
	b, ok := toNumber(operand)
	if !ok {
		return current, false
	}

	a := number{template: b.template}
	if present && current != nil {
		if a, ok = toNumber(current); !ok {
			return current, false
		}
	} else if present {
		// An explicit null is not a number.
		return current, false
	}

	if !a.isFloat && !b.isFloat {
		if result, ok := op.ints(a.i, b.i); ok {
			return castInt(result, a.template), true
		}
	}
	return op.floats(a.float(), b.float()), true
}

// castInt converts n back to the integer type of template when it fits.
func castInt(n int64, template any) any {
	if template == nil {
		return n
	}
	rv := reflect.ValueOf(template)
	out := reflect.New(rv.Type()).Elem()
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if out.OverflowInt(n) {
			return n
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if n < 0 || out.OverflowUint(uint64(n)) {
			return n
		}
		out.SetUint(uint64(n))
	default:
		return n
	}
	return out.Interface()
}
