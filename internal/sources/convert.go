package sources

import (
	"fmt"
	"strings"
)

// str returns m[key] as a string. Numbers are formatted without a fraction when integral.
func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// first returns a scalar string field, or the first element of a list field
func first(m map[string]any, key string) string {
	if list, ok := m[key].([]any); ok {
		if len(list) == 0 {
			return ""
		}
		return str(map[string]any{key: list[0]}, key)
	}
	return str(m, key)
}

// list returns a list field, wrapping a non-empty scalar in a one-element list
func list(m map[string]any, key string) []any {
	switch v := m[key].(type) {
	case []any:
		return v
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []any{v}
	default:
		return []any{v}
	}
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func obj(m map[string]any, key string) map[string]any {
	if o, ok := m[key].(map[string]any); ok {
		return o
	}
	return map[string]any{}
}

// putIf sets fields[key] unless v carries no information
func putIf(fields map[string]any, key string, v any) {
	switch t := v.(type) {
	case nil:
		return
	case string:
		if t == "" {
			return
		}
	case []any:
		if len(t) == 0 {
			return
		}
	}
	fields[key] = v
}
