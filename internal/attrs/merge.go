// File: internal/attrs/merge.go
// Brief: Deep merge rules for JSON attribute fragments.

package attrs

import "reflect"

// MergeOptions tunes how lists combine.
type MergeOptions struct {
	// ReplaceLists makes an overlay list replace the base list. By default the
	// result is the ordered union: base elements first, then overlay elements
	// not already present.
	ReplaceLists bool
}

// Merge deep-merges overlay into base and returns a new document; neither
// input is modified. Overlay scalars win, nested mappings merge key by key,
// and a null in the overlay leaves an existing base value untouched.
func Merge(base, overlay map[string]any, opts MergeOptions) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = clone(v)
	}
	for k, ov := range overlay {
		bv, ok := out[k]
		if !ok {
			out[k] = clone(ov)
			continue
		}
		out[k] = mergeValue(bv, ov, opts)
	}
	return out
}

func mergeValue(base, overlay any, opts MergeOptions) any {
	switch ov := overlay.(type) {
	case nil:
		return base
	case map[string]any:
		if bm, ok := base.(map[string]any); ok {
			return Merge(bm, ov, opts)
		}
		return clone(ov)
	case []any:
		if bl, ok := base.([]any); ok && !opts.ReplaceLists {
			return union(bl, ov)
		}
		return clone(ov)
	default:
		return ov
	}
}

func union(base, overlay []any) []any {
	out := make([]any, 0, len(base)+len(overlay))
	add := func(v any) {
		for _, existing := range out {
			if reflect.DeepEqual(existing, v) {
				return
			}
		}
		out = append(out, clone(v))
	}
	for _, v := range base {
		add(v)
	}
	for _, v := range overlay {
		add(v)
	}
	return out
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = clone(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = clone(vv)
		}
		return out
	default:
		return v
	}
}
