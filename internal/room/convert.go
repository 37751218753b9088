package room

import "slices"

// Phase data is a JSON-safe map: values written by handlers keep their Go
// types, values arriving from client payloads come out of encoding/json
// as any. These helpers accept both shapes.

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case uint64:
		return int(t)
	case float64:
		return int(t)
	}
	return 0
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toIntMap(v any) map[string]int {
	switch t := v.(type) {
	case map[string]int:
		out := make(map[string]int, len(t))
		for k, n := range t {
			out[k] = n
		}
		return out
	case map[string]any:
		out := make(map[string]int, len(t))
		for k, n := range t {
			out[k] = toInt(n)
		}
		return out
	}
	return nil
}

func toHands(v any) map[string][]string {
	switch t := v.(type) {
	case map[string][]string:
		out := make(map[string][]string, len(t))
		for k, s := range t {
			out[k] = slices.Clone(s)
		}
		return out
	case map[string]any:
		out := make(map[string][]string, len(t))
		for k, s := range t {
			out[k] = toStrings(s)
		}
		return out
	}
	return map[string][]string{}
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return 0
}

// rotatedFrom returns names reordered to start at leader, preserving the
// seat rotation.
func rotatedFrom(names []string, leader string) []string {
	i := indexOf(names, leader)
	out := make([]string, 0, len(names))
	out = append(out, names[i:]...)
	out = append(out, names[:i]...)
	return out
}
