package core

import "sort"

// Delta is the set of channel writes produced by a single node invocation.
//
// For append channels a []any value contributes each of its elements while
// any other value contributes itself. For overwrite channels the value
// replaces the current one.
type Delta map[string]any

// Channels returns the written channel names in lexical order.
func (d Delta) Channels() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Normalized returns a copy of d with every value in canonical JSON shape.
func (d Delta) Normalized() (Delta, error) {
	out := make(Delta, len(d))
	for k, v := range d {
		nv, err := Normalize(v)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

// Items expands an append-channel write into the items it contributes.
func Items(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{v}
}
