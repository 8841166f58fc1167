package reporttypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ValueKind enumerates the closed set of custom data value types
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueString
	ValueInt
	ValueFloat
	ValueBool
	ValueList
	ValueMap
)

// CustomValue is a tagged union over the supported custom data shapes. Keeping
// the set closed lets the sanitizer traverse every string leaf exhaustively.
type CustomValue struct {
	Kind   ValueKind
	Str    string
	Int    int64
	Float  float64
	Bool   bool
	List   []*CustomValue
	Fields map[string]*CustomValue
}

func StringValue(s string) *CustomValue  { return &CustomValue{Kind: ValueString, Str: s} }
func IntValue(i int64) *CustomValue      { return &CustomValue{Kind: ValueInt, Int: i} }
func FloatValue(f float64) *CustomValue  { return &CustomValue{Kind: ValueFloat, Float: f} }
func BoolValue(b bool) *CustomValue      { return &CustomValue{Kind: ValueBool, Bool: b} }
func NullValue() *CustomValue            { return &CustomValue{Kind: ValueNull} }
func ListValue(vs ...*CustomValue) *CustomValue {
	return &CustomValue{Kind: ValueList, List: vs}
}
func MapValue(fields map[string]*CustomValue) *CustomValue {
	return &CustomValue{Kind: ValueMap, Fields: fields}
}

// WalkStrings visits every string leaf and replaces it with the returned value
func (v *CustomValue) WalkStrings(fn func(string) string) {
	if v == nil {
		return
	}
	switch v.Kind {
	case ValueString:
		v.Str = fn(v.Str)
	case ValueList:
		for _, item := range v.List {
			item.WalkStrings(fn)
		}
	case ValueMap:
		for _, item := range v.Fields {
			item.WalkStrings(fn)
		}
	}
}

// MarshalJSON renders the union as plain JSON
func (v *CustomValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNull:
		return []byte("null"), nil
	case ValueString:
		return json.Marshal(v.Str)
	case ValueInt:
		return json.Marshal(v.Int)
	case ValueFloat:
		return json.Marshal(v.Float)
	case ValueBool:
		return json.Marshal(v.Bool)
	case ValueList:
		return json.Marshal(v.List)
	case ValueMap:
		return json.Marshal(v.Fields)
	default:
		return nil, fmt.Errorf("unknown value kind: %d", v.Kind)
	}
}

// UnmarshalJSON parses plain JSON into the union. Numbers without a fractional
// part decode as ints.
func (v *CustomValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := fromInterface(raw)
	if err != nil {
		return err
	}
	*v = *parsed
	return nil
}

func fromInterface(raw interface{}) (*CustomValue, error) {
	switch val := raw.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(val), nil
	case bool:
		return BoolValue(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return IntValue(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("unparseable number %q: %w", val.String(), err)
		}
		return FloatValue(f), nil
	case []interface{}:
		list := make([]*CustomValue, 0, len(val))
		for _, item := range val {
			parsed, err := fromInterface(item)
			if err != nil {
				return nil, err
			}
			list = append(list, parsed)
		}
		return ListValue(list...), nil
	case map[string]interface{}:
		fields := make(map[string]*CustomValue, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parsed, err := fromInterface(val[k])
			if err != nil {
				return nil, err
			}
			fields[k] = parsed
		}
		return MapValue(fields), nil
	default:
		return nil, fmt.Errorf("unsupported custom data type %T", raw)
	}
}
