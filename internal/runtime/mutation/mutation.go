// Package mutation implements the update operator algebra applied by the
// document store: $set, $inc, $mul, $unset, $push and $pull.
//
// Operators never fail on ill-typed operands. $inc on a string, $push onto a
// number and similar combinations leave the field untouched.
package mutation

import (
	"fmt"
	"reflect"
	"sort"

	errspkg "github.com/drblury/sparked/internal/runtime/errors"
)

// Operator names one field-level mutation.
type Operator string

const (
	Set   Operator = "$set"
	Inc   Operator = "$inc"
	Mul   Operator = "$mul"
	Unset Operator = "$unset"
	Push  Operator = "$push"
	Pull  Operator = "$pull"
)

// inOperand is the key that turns a $pull operand into a set of values.
const inOperand = "$in"

// Operators lists the known operators in the order Parse applies them.
var Operators = []Operator{Set, Inc, Mul, Unset, Push, Pull}

// Known reports whether op is one of the supported operators.
func (op Operator) Known() bool {
	for _, known := range Operators {
		if op == known {
			return true
		}
	}
	return false
}

// Update is one operator with its field operands.
type Update struct {
	Operator Operator
	Fields   map[string]any
}

// Spec is an ordered list of updates applied front to back.
type Spec []Update

// Parse builds a Spec from the {operator: {field: operand}} form carried by
// update messages. Known operators come first in canonical order, unknown
// ones follow sorted by name so the result is deterministic.
func Parse(raw map[string]any) (Spec, error) {
	var unknown []string
	for name := range raw {
		if !Operator(name).Known() {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)

	order := make([]Operator, 0, len(raw))
	for _, op := range Operators {
		if _, ok := raw[string(op)]; ok {
			order = append(order, op)
		}
	}
	for _, name := range unknown {
		order = append(order, Operator(name))
	}

	spec := make(Spec, 0, len(order))
	for _, op := range order {
		fields, ok := asFields(raw[string(op)])
		if !ok {
			if !op.Known() {
				continue
			}
			return nil, fmt.Errorf("%w: operand of %s must be an object, got %T", errspkg.ErrInvalidMessage, op, raw[string(op)])
		}
		spec = append(spec, Update{Operator: op, Fields: fields})
	}
	return spec, nil
}

// Apply mutates doc in place.
func (s Spec) Apply(doc map[string]any) {
	for _, u := range s {
		u.Apply(doc)
	}
}

// Apply mutates doc in place for one operator. Fields are visited in sorted
// order.
func (u Update) Apply(doc map[string]any) {
	if !u.Operator.Known() {
		return
	}
	fields := make([]string, 0, len(u.Fields))
	for field := range u.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		current, present := doc[field]
		if next, changed := ApplyOperator(u.Operator, current, present, u.Fields[field]); changed {
			doc[field] = next
		}
	}
}

// ApplyOperator computes the next value of a field. present tells whether the
// field existed at all. The boolean result is false when the field must stay
// as it is.
func ApplyOperator(op Operator, current any, present bool, operand any) (any, bool) {
	switch op {
	case Set:
		return operand, true
	case Inc:
		return arithmetic(current, present, operand, add)
	case Mul:
		return arithmetic(current, present, operand, mul)
	case Unset:
		return nil, true
	case Push:
		return push(current, operand)
	case Pull:
		return pull(current, operand)
	default:
		return current, false
	}
}

func push(current, operand any) (any, bool) {
	list := reflect.ValueOf(current)
	if !isList(list) {
		return current, false
	}

	elemType := list.Type().Elem()
	var elem reflect.Value
	switch {
	case operand == nil && elemType.Kind() == reflect.Interface:
		elem = reflect.Zero(elemType)
	case operand != nil && reflect.TypeOf(operand).AssignableTo(elemType):
		elem = reflect.ValueOf(operand)
	}
	if !elem.IsValid() {
		// Widen typed slices so any operand can be appended.
		widened := make([]any, 0, list.Len()+1)
		for i := 0; i < list.Len(); i++ {
			widened = append(widened, list.Index(i).Interface())
		}
		return append(widened, operand), true
	}

	out := reflect.MakeSlice(list.Type(), 0, list.Len()+1)
	out = reflect.AppendSlice(out, list)
	return reflect.Append(out, elem).Interface(), true
}

func pull(current, operand any) (any, bool) {
	list := reflect.ValueOf(current)
	if !isList(list) {
		return current, false
	}

	remove := []any{operand}
	if fields, ok := asFields(operand); ok {
		if in, ok := fields[inOperand]; ok {
			if values, ok := asList(in); ok {
				remove = values
			}
		}
	}

	out := reflect.MakeSlice(list.Type(), 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		item := list.Index(i)
		if !containsValue(remove, item.Interface()) {
			out = reflect.Append(out, item)
		}
	}
	return out.Interface(), true
}

func containsValue(values []any, v any) bool {
	for _, candidate := range values {
		if Equal(candidate, v) {
			return true
		}
	}
	return false
}

// Equal compares two document values. Numbers compare by value across
// numeric types; everything else uses deep equality.
func Equal(a, b any) bool {
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			return na.equal(nb)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func isList(v reflect.Value) bool {
	return v.IsValid() && v.Kind() == reflect.Slice && v.Type().Elem().Kind() != reflect.Uint8
}

func asList(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if !isList(rv) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asFields(v any) (map[string]any, bool) {
	if fields, ok := v.(map[string]any); ok {
		return fields, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
