// Package normalize turns tool payloads into flat, natively typed rows.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"math/big"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"
)

const DefaultSeparator = "."

// rowKeys are tried in order when a payload wraps its rows in a list field.
var rowKeys = []string{"items", "data", "result", "results"}

// Flatten merges nested map keys with sep. Lists are kept as values; callers
// flatten list elements themselves. The input is not modified. Keys are
// visited in sorted order and the last write wins on a collision, so a literal
// "a.b" key overrides {"a": {"b": ...}}.
func Flatten(obj map[string]any, sep string) map[string]any {
	if sep == "" {
		sep = DefaultSeparator
	}
	out := make(map[string]any, len(obj))
	flattenInto(out, "", obj, sep)
	return out
}

func flattenInto(out map[string]any, parent string, obj map[string]any, sep string) {
	for _, k := range slices.Sorted(maps.Keys(obj)) {
		v := obj[k]
		key := k
		if parent != "" {
			key = parent + sep + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested, sep)
			continue
		}
		out[key] = v
	}
}

// maxWholeDigits bounds the integers built from strings; float64 tops out
// just above 1e308.
const maxWholeDigits = 309

// CoerceNumericStrings walks maps and slices and converts numeric strings.
// Pure digit strings become integers. Other strings that parse as decimals
// become integers when whole (non-negative exponent) and float64 otherwise.
// Integers are int64 when they fit and *big.Int when they do not.
// Non-numeric strings, whole numbers longer than maxWholeDigits and fractions
// outside the float64 range are returned unchanged, as are non-string values.
func CoerceNumericStrings(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = CoerceNumericStrings(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = CoerceNumericStrings(val)
		}
		return out
	case string:
		if n, ok := parseNumeric(t); ok {
			return n
		}
		return t
	default:
		return v
	}
}

func parseNumeric(s string) (any, bool) {
	if isDigits(s) {
		if len(s) > maxWholeDigits {
			return nil, false
		}
		bi, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, false
		}
		return intValue(bi), true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, false
	}
	if d.Exponent() >= 0 {
		if int64(d.NumDigits())+int64(d.Exponent()) > maxWholeDigits {
			return nil, false
		}
		return intValue(d.BigInt()), true
	}
	// decimal.Float64 goes through big.Rat, which is unbounded in the exponent
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || (f == 0 && !d.IsZero()) {
		return nil, false
	}
	return f, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func intValue(bi *big.Int) any {
	if bi.IsInt64() {
		return bi.Int64()
	}
	return bi
}

// Records coerces a tool result and expands it into flat rows tagged with the
// tool name. A list yields one row per element. A map whose rows sit under one
// of the usual wrapper keys yields those rows. Any other map is a single row
// and a scalar becomes {"value": v}.
func Records(toolName string, result any) []map[string]any {
	coerced := CoerceNumericStrings(result)

	var elems []any
	switch t := coerced.(type) {
	case []any:
		elems = t
	case map[string]any:
		elems = []any{t}
		for _, k := range rowKeys {
			if list, ok := t[k].([]any); ok && len(list) > 0 && allMaps(list) {
				elems = list
				break
			}
		}
	default:
		elems = []any{t}
	}

	rows := make([]map[string]any, 0, len(elems))
	for _, e := range elems {
		var row map[string]any
		if m, ok := e.(map[string]any); ok {
			row = Flatten(m, DefaultSeparator)
		} else {
			row = map[string]any{"value": e}
		}
		row["source_tool"] = toolName
		rows = append(rows, row)
	}
	return rows
}

func allMaps(list []any) bool {
	for _, e := range list {
		if _, ok := e.(map[string]any); !ok {
			return false
		}
	}
	return true
}

// DecodeJSON decodes a payload keeping full integer precision. JSON numbers
// become int64, *big.Int or float64.
func DecodeJSON(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return nativeNumbers(v), nil
}

// DecodeJSONBytes is DecodeJSON for an in-memory payload.
func DecodeJSONBytes(b []byte) (any, error) {
	return DecodeJSON(bytes.NewReader(b))
}

func nativeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = nativeNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = nativeNumbers(val)
		}
		return t
	case json.Number:
		if n, ok := parseNumeric(t.String()); ok {
			return n
		}
		return t.String()
	default:
		return v
	}
}
