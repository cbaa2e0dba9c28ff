package core

import (
	"fmt"
	"sort"
)

// Reducer folds a write into a channel's current value. Reducers used on
// channels written concurrently must be commutative and associative so the
// merged result does not depend on writer order.
type Reducer func(current, next any) (any, error)

var builtinReducers = map[string]Reducer{
	"sum":   reduceNumeric(func(a, b float64) float64 { return a + b }),
	"max":   reduceNumeric(func(a, b float64) float64 { return max(a, b) }),
	"min":   reduceNumeric(func(a, b float64) float64 { return min(a, b) }),
	"any":   reduceBool(func(a, b bool) bool { return a || b }),
	"all":   reduceBool(func(a, b bool) bool { return a && b }),
	"union": reduceUnion,
}

// BuiltinReducer looks up one of the built-in reducers
// (sum, max, min, any, all, union).
func BuiltinReducer(name string) (Reducer, bool) {
	r, ok := builtinReducers[name]
	return r, ok
}

// BuiltinReducerNames lists the built-in reducer names in lexical order.
func BuiltinReducerNames() []string {
	names := make([]string, 0, len(builtinReducers))
	for n := range builtinReducers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func reduceNumeric(op func(a, b float64) float64) Reducer {
	return func(current, next any) (any, error) {
		a, ok := current.(float64)
		if !ok {
			return nil, fmt.Errorf("reducer expects numbers, got %T", current)
		}
		b, ok := next.(float64)
		if !ok {
			return nil, fmt.Errorf("reducer expects numbers, got %T", next)
		}
		return op(a, b), nil
	}
}

func reduceBool(op func(a, b bool) bool) Reducer {
	return func(current, next any) (any, error) {
		a, ok := current.(bool)
		if !ok {
			return nil, fmt.Errorf("reducer expects booleans, got %T", current)
		}
		b, ok := next.(bool)
		if !ok {
			return nil, fmt.Errorf("reducer expects booleans, got %T", next)
		}
		return op(a, b), nil
	}
}

// reduceUnion merges string sets and keeps the result sorted.
func reduceUnion(current, next any) (any, error) {
	set := map[string]struct{}{}
	all := make([]any, 0)
	all = append(all, Items(current)...)
	all = append(all, Items(next)...)
	for _, v := range all {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("union reducer expects strings, got %T", v)
		}
		set[s] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out, nil
}
