package value

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/valyala/fastjson"
)

// ParseBytes decodes a JSON document. Object fields keep document order.
func ParseBytes(b []byte) (Value, error) {
	v, err := fastjson.ParseBytes(b)
	if err != nil {
		return Value{}, err
	}
	return FromFastJSON(v)
}

// Parse decodes a JSON document held in a string.
func Parse(s string) (Value, error) {
	return ParseBytes([]byte(s))
}

// MustParse is Parse for literals known to be valid. It panics on error.
func MustParse(s string) Value {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromFastJSON converts an already parsed fastjson value.
func FromFastJSON(v *fastjson.Value) (Value, error) {
	switch v.Type() {
	case fastjson.TypeObject:
		o, err := v.Object()
		if err != nil {
			return Value{}, err
		}
		return fromFastJSONObject(o)
	case fastjson.TypeArray:
		a, err := v.Array()
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, len(a))
		for i, e := range a {
			item, err := FromFastJSON(e)
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return Array(items...), nil
	case fastjson.TypeString:
		sb, err := v.StringBytes()
		if err != nil {
			return Value{}, err
		}
		return String(string(sb)), nil
	case fastjson.TypeNumber:
		return Number(string(v.MarshalTo(nil))), nil
	case fastjson.TypeTrue:
		return Bool(true), nil
	case fastjson.TypeFalse:
		return Bool(false), nil
	case fastjson.TypeNull:
		return Null(), nil
	}
	return Value{}, fmt.Errorf("unsupported json type %s", v.Type())
}

func fromFastJSONObject(o *fastjson.Object) (Value, error) {
	fields := make([]Field, 0, o.Len())

	var visitErr error
	o.Visit(func(key []byte, v *fastjson.Value) {
		if visitErr != nil {
			return
		}
		child, err := FromFastJSON(v)
		if err != nil {
			visitErr = err
			return
		}
		fields = append(fields, Field{Key: string(key), Value: child})
	})
	if visitErr != nil {
		return Value{}, visitErr
	}

	return Object(fields...), nil
}

// FromAny converts a value produced by encoding/json (or built by hand from
// maps, slices and scalars). Map keys are sorted since Go maps carry no
// order. Whole float64 values are treated as integers because encoding/json
// cannot tell 1 and 1.0 apart.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return Number(t.String()), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float32:
		return fromFloat(float64(t)), nil
	case float64:
		return fromFloat(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			item, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = item
		}
		return Array(items...), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make([]Field, 0, len(keys))
		for _, k := range keys {
			child, err := FromAny(t[k])
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			fields = append(fields, Field{Key: k, Value: child})
		}
		return Object(fields...), nil
	}
	return Value{}, fmt.Errorf("unsupported value of type %T", x)
}

func fromFloat(f float64) Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return Number(strconv.FormatInt(int64(f), 10))
	}
	return Float(f)
}
