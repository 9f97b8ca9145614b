package reconcile

import "encoding/json"

// Merge deep-merges src into dst and returns the result. Neither
// input is mutated. Two arrays merge as an order-preserving set union
// (dst elements first), two maps merge key-by-key recursively, and in
// every other pairing the source value wins. Merging the same source
// twice yields the same result.
func Merge(dst, src any) any {
	switch s := src.(type) {
	case map[string]any:
		d, ok := dst.(map[string]any)
		if !ok {
			d = nil
		}
		out := make(map[string]any, len(d)+len(s))
		for k, v := range d {
			out[k] = v
		}
		for k, v := range s {
			out[k] = Merge(d[k], v)
		}
		return out
	case []any:
		d, ok := dst.([]any)
		if !ok {
			return s
		}
		return unionArrays(d, s)
	default:
		return src
	}
}

// unionArrays appends src elements not already present in dst,
// preserving first-seen order. Elements are compared by their JSON
// encoding so object entries dedupe by value.
func unionArrays(dst, src []any) []any {
	seen := make(map[string]bool, len(dst)+len(src))
	out := make([]any, 0, len(dst)+len(src))
	for _, v := range append(append([]any{}, dst...), src...) {
		key, err := json.Marshal(v)
		if err != nil {
			out = append(out, v)
			continue
		}
		if seen[string(key)] {
			continue
		}
		seen[string(key)] = true
		out = append(out, v)
	}
	return out
}
