// Package template implements the small Velocity-style template language the
// gateway evaluates over request and response payloads: variable assignment
// and substitution, conditional blocks, structured extraction with
// $input.path, and the $util helpers.
//
// Extracted data is represented as a tagged union (null, bool, number,
// string, list, map) with defined stringification per type, so that the
// provider's non-JSON rendered forms are reproduced exactly rather than
// depending on runtime type inspection.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Kind discriminates the variants of Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// Value is one extracted or computed template value.
//
// Maps preserve the key order of the JSON document they were parsed from;
// values constructed from Go maps fall back to sorted keys so that rendering
// stays deterministic.
type Value struct {
	kind Kind

	boolVal   bool
	numberVal float64
	stringVal string
	listVal   []Value

	mapKeys []string
	mapVals map[string]Value
}

var Null = Value{kind: KindNull}

func Bool(b bool) Value      { return Value{kind: KindBool, boolVal: b} }
func Number(n float64) Value { return Value{kind: KindNumber, numberVal: n} }
func String(s string) Value  { return Value{kind: KindString, stringVal: s} }

func List(items []Value) Value {
	return Value{kind: KindList, listVal: items}
}

func Map(keys []string, vals map[string]Value) Value {
	return Value{kind: KindMap, mapKeys: keys, mapVals: vals}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) Str() string    { return v.stringVal }
func (v Value) Num() float64   { return v.numberVal }
func (v Value) BoolVal() bool  { return v.boolVal }
func (v Value) Items() []Value { return v.listVal }

// Field looks up a map key. The second return is false when the value is not
// a map or the key does not exist.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMap {
		return Null, false
	}
	val, ok := v.mapVals[name]
	return val, ok
}

// Index looks up a list element.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindList || i < 0 || i >= len(v.listVal) {
		return Null, false
	}
	return v.listVal[i], true
}

// Equal implements the template language's == operator. Null only equals
// null, which keeps a missing extraction distinguishable from an empty
// string.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.boolVal == other.boolVal
	case KindNumber:
		return v.numberVal == other.numberVal
	case KindString:
		return v.stringVal == other.stringVal
	case KindList:
		if len(v.listVal) != len(other.listVal) {
			return false
		}
		for i := range v.listVal {
			if !v.listVal[i].Equal(other.listVal[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.mapVals) != len(other.mapVals) {
			return false
		}
		for k, val := range v.mapVals {
			otherVal, ok := other.mapVals[k]
			if !ok || !val.Equal(otherVal) {
				return false
			}
		}
		return true
	}
	return false
}

// Truthy implements the template language's boolean coercion: null and false
// are falsy, everything else is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.boolVal
	default:
		return true
	}
}

// Render produces the substitution form of the value: the text written into
// the output when a reference appears in a template. Strings render raw,
// null renders empty, containers render in the provider's stringified form.
func (v Value) Render() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.stringVal
	default:
		return v.stringify()
	}
}

// stringify produces the provider's native string form: single-quoted string
// elements inside containers, bracketed lists, brace-delimited key: value
// maps. This is deliberately not JSON.
func (v Value) stringify() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.boolVal)
	case KindNumber:
		return formatNumber(v.numberVal)
	case KindString:
		return "'" + v.stringVal + "'"
	case KindList:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, item := range v.listVal {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(item.stringify())
		}
		sb.WriteByte(']')
		return sb.String()
	case KindMap:
		var sb strings.Builder
		sb.WriteByte('{')
		for i, key := range v.mapKeys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("'" + key + "': ")
			sb.WriteString(v.mapVals[key].stringify())
		}
		sb.WriteByte('}')
		return sb.String()
	}
	return ""
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

//
// ---
//

// FromGo converts decoded Go data (interface{} trees as produced by
// encoding/json or yaml) into a Value. Map key order is not recoverable from
// a Go map, so keys are sorted.
func FromGo(v interface{}) Value {
	switch v := v.(type) {
	case nil:
		return Null
	case bool:
		return Bool(v)
	case float64:
		return Number(v)
	case int:
		return Number(float64(v))
	case int64:
		return Number(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return String(v.String())
		}
		return Number(f)
	case string:
		return String(v)
	case []interface{}:
		items := make([]Value, len(v))
		for i, item := range v {
			items[i] = FromGo(item)
		}
		return List(items)
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vals := make(map[string]Value, len(v))
		for k, item := range v {
			vals[k] = FromGo(item)
		}
		return Map(keys, vals)
	default:
		return String(fmt.Sprintf("%v", v))
	}
}

// ParseJSON decodes a JSON document into a Value, preserving object key
// order. An error is returned for anything that is not valid JSON.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	val, err := decodeValue(dec)
	if err != nil {
		return Null, err
	}

	// Trailing garbage makes the document invalid, whether or not it is
	// itself a JSON token.
	if _, err := dec.Token(); err != io.EOF {
		return Null, fmt.Errorf("unexpected data after JSON document")
	}
	return val, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null, err
	}
	return decodeFromToken(dec, tok)
}

func decodeFromToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch tok := tok.(type) {
	case json.Delim:
		switch tok {
		case '{':
			var keys []string
			vals := make(map[string]Value)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Null, err
				}
				key := keyTok.(string)
				val, err := decodeValue(dec)
				if err != nil {
					return Null, err
				}
				if _, exists := vals[key]; !exists {
					keys = append(keys, key)
				}
				vals[key] = val
			}
			if _, err := dec.Token(); err != nil { // closing brace
				return Null, err
			}
			return Map(keys, vals), nil
		case '[':
			var items []Value
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return Null, err
				}
				items = append(items, val)
			}
			if _, err := dec.Token(); err != nil { // closing bracket
				return Null, err
			}
			return List(items), nil
		}
		return Null, fmt.Errorf("unexpected delimiter %v", tok)
	case bool:
		return Bool(tok), nil
	case json.Number:
		f, err := tok.Float64()
		if err != nil {
			return Null, err
		}
		return Number(f), nil
	case string:
		return String(tok), nil
	case nil:
		return Null, nil
	}
	return Null, fmt.Errorf("unexpected token %v", tok)
}
