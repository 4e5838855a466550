// Package value holds decoded semi-structured payloads as a closed tagged
// variant, so consumers switch over a fixed set of kinds instead of
// inspecting dynamic Go types.
package value

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Field is one key/value pair of an object. Objects keep their fields in
// document order.
type Field struct {
	Key   string
	Value Value
}

// Value is a decoded JSON-like value. The zero Value is null.
type Value struct {
	kind   Kind
	b      bool
	s      string // string contents, or the literal text of a number
	items  []Value
	fields []Field
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int wraps an integer.
func Int(n int64) Value { return Value{kind: KindNumber, s: strconv.FormatInt(n, 10)} }

// Float wraps a floating point number. Whole numbers keep a fractional part
// so they are still reported as non-integers.
func Float(f float64) Value {
	text := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(text, ".eEnN") {
		text += ".0"
	}
	return Value{kind: KindNumber, s: text}
}

// Number wraps the literal text of a JSON number.
func Number(text string) Value { return Value{kind: KindNumber, s: text} }

// Array builds an array from its elements.
func Array(items ...Value) Value {
	return Value{kind: KindArray, items: items}
}

// Object builds an object from fields in order.
func Object(fields ...Field) Value {
	return Value{kind: KindObject, fields: fields}
}

// F is shorthand for building a Field.
func F(key string, v Value) Field { return Field{Key: key, Value: v} }

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// NumberText returns the literal text of a number.
func (v Value) NumberText() (string, bool) {
	return v.s, v.kind == KindNumber
}

// AsFloat parses the number held by v.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.s, 64)
	return f, err == nil
}

// IsInteger reports whether v is a number written without fraction or
// exponent that fits in an int64.
func (v Value) IsInteger() bool {
	if v.kind != KindNumber || strings.ContainsAny(v.s, ".eE") {
		return false
	}
	_, err := strconv.ParseInt(v.s, 10, 64)
	return err == nil
}

// Elements returns the items of an array, or nil.
func (v Value) Elements() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.items
}

// Fields returns the fields of an object in document order, or nil.
func (v Value) Fields() []Field {
	if v.kind != KindObject {
		return nil
	}
	return v.fields
}

// Get returns the first field named key.
func (v Value) Get(key string) (Value, bool) {
	for _, f := range v.Fields() {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Len returns the number of array items or object fields.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.fields)
	}
	return 0
}
