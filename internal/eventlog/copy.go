package eventlog

import (
	"maps"
	"slices"
)

// CopyValue deep-copies the JSON-safe value shapes phase data is built
// from. Unknown scalar types pass through by value.
func CopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CopyValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	case []int:
		return slices.Clone(t)
	case map[string]int:
		return maps.Clone(t)
	case map[string]string:
		return maps.Clone(t)
	case map[string][]string:
		out := make(map[string][]string, len(t))
		for k, s := range t {
			out[k] = slices.Clone(s)
		}
		return out
	default:
		return v
	}
}

// CloneMap deep-copies a phase-data style map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CopyValue(v)
	}
	return out
}
