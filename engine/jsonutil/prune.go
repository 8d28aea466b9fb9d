// Package jsonutil holds small, dependency-free transforms applied to card
// and report payloads before they are persisted or streamed.
package jsonutil

import "reflect"

// PruneEmpty recursively removes nil values, blank strings, and empty
// containers (maps, slices) from value, returning a new value with the same
// shape minus anything empty. Numbers, bools, and non-blank strings are
// preserved as-is. This mirrors the report-cleaning pass the source pipeline
// runs before handing a card's output to clients, so a card that found
// nothing for a given field omits it rather than emitting null/"".
func PruneEmpty(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			pruned := PruneEmpty(val)
			if isEmpty(pruned) {
				continue
			}
			out[key] = pruned
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, val := range v {
			pruned := PruneEmpty(val)
			if isEmpty(pruned) {
				continue
			}
			out = append(out, pruned)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return v
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Map, reflect.Slice:
			return rv.Len() == 0
		default:
			return false
		}
	}
}
