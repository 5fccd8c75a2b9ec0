// Package normalize converts heterogeneous Picqer JSON payloads into the
// canonical shapes used by the reconciliation core. Every field is resolved
// through a prioritized alias table; unknown shapes yield empty results
// instead of errors.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// lookup returns the first non-nil value among keys.
func lookup(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// str resolves keys to the first non-empty scalar rendered as a string.
func str(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := scalarString(obj[k]); s != "" {
			return s
		}
	}
	return ""
}

// num resolves keys to the first value that parses as a number.
func num(obj map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if n, ok := toInt(obj[k]); ok {
			return n, true
		}
	}
	return 0, false
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n), true
		}
		if f, err := x.Float64(); err == nil {
			return floatToInt(f)
		}
	case float64:
		return floatToInt(x)
	case int:
		return x, true
	case int64:
		return int(x), true
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatToInt(f)
		}
	}
	return 0, false
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

func toBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case json.Number:
		n, err := x.Int64()
		return err == nil && n != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return err == nil && b
	default:
		return false
	}
}

// objects keeps the map elements of arr.
func objects(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// array accepts a bare array or an object carrying an array under one of keys.
func array(raw any, keys ...string) ([]any, bool) {
	switch x := raw.(type) {
	case []any:
		return x, true
	case map[string]any:
		for _, k := range keys {
			if arr, ok := x[k].([]any); ok {
				return arr, true
			}
		}
	}
	return nil, false
}
