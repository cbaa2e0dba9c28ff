package core

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// ChannelKind selects how writes to a channel are merged.
type ChannelKind string

const (
	// Append channels accumulate every written value in merge order.
	Append ChannelKind = "append"
	// Overwrite channels hold a single value replaced by each write.
	Overwrite ChannelKind = "overwrite"
)

// Valid reports whether k is a known channel kind.
func (k ChannelKind) Valid() bool { return k == Append || k == Overwrite }

// State is the shared blackboard of an execution: channel name -> value.
//
// Values are held in their canonical JSON shape (see Normalize): strings,
// float64, bool, nil, []any and map[string]any. Append channels always hold
// []any. Keeping that shape makes snapshots round-trip exactly through any
// checkpoint store, which resume equivalence depends on.
//
// A State is not safe for concurrent mutation. The engine is its only writer
// and hands nodes private clones.
type State struct {
	values map[string]any
}

// NewState returns an empty state.
func NewState() *State {
	return &State{values: map[string]any{}}
}

// NewStateFrom builds a state from an initial payload, normalizing every value.
func NewStateFrom(values map[string]any) (*State, error) {
	s := NewState()
	for k, v := range values {
		nv, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", k, err)
		}
		s.values[k] = nv
	}
	return s, nil
}

// Get returns the raw value of a channel.
func (s *State) Get(name string) (any, bool) {
	v, ok := s.values[name]
	return v, ok
}

// GetString returns the channel value rendered as a string ("" when absent).
func (s *State) GetString(name string) string {
	v, ok := s.values[name]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// List returns a copy of an append channel's items. Non-list values are
// returned as a single element list.
func (s *State) List(name string) []any {
	v, ok := s.values[name]
	if !ok || v == nil {
		return nil
	}
	if items, ok := v.([]any); ok {
		return deepCopy(items).([]any)
	}
	return []any{deepCopy(v)}
}

// Decode converts a channel value into out (a pointer) via its JSON shape.
func (s *State) Decode(name string, out any) error {
	v, ok := s.values[name]
	if !ok {
		return fmt.Errorf("channel %q not set", name)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Set replaces a channel value. The value must already be normalized.
func (s *State) Set(name string, v any) { s.values[name] = v }

// Append adds normalized items to an append channel.
func (s *State) Append(name string, items ...any) {
	cur, _ := s.values[name].([]any)
	next := make([]any, 0, len(cur)+len(items))
	next = append(next, cur...)
	next = append(next, items...)
	s.values[name] = next
}

// Keys returns the channel names in lexical order.
func (s *State) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns a deep copy of all channel values.
func (s *State) Values() map[string]any {
	return deepCopy(s.values).(map[string]any)
}

// Clone returns an independent deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return NewState()
	}
	return &State{values: s.Values()}
}

// Equal reports deep equality of channel values.
func (s *State) Equal(other *State) bool {
	if s == nil || other == nil {
		return s == other
	}
	return reflect.DeepEqual(s.values, other.values)
}

// MarshalJSON encodes the channel map. encoding/json sorts map keys, so the
// output is canonical for a given state.
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.values)
}

// UnmarshalJSON decodes a channel map.
func (s *State) UnmarshalJSON(b []byte) error {
	values := map[string]any{}
	if err := json.Unmarshal(b, &values); err != nil {
		return err
	}
	s.values = values
	return nil
}

// Normalize converts v into its canonical JSON shape.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value of type %T is not JSON serializable: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = deepCopy(e)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, e := range t {
			l[i] = deepCopy(e)
		}
		return l
	default:
		return t
	}
}
