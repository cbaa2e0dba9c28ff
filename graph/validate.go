package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentgraph/core"
)

// Validate checks structural integrity. Unknown node kinds fail with
// core.ErrUnknownNodeKind; every other problem fails with
// core.ErrInvalidGraphSpec listing all issues found.
func (s *Spec) Validate() error {
	return s.validate(s.Name)
}

func (s *Spec) validate(path string) error {
	if path == "" {
		path = "graph"
	}

	for _, id := range s.NodeIDs() {
		if k := s.Nodes[id].Kind; !k.Valid() {
			return fmt.Errorf("%w: %q on node %q in %s", core.ErrUnknownNodeKind, k, id, path)
		}
	}

	var issues []string
	addf := func(format string, args ...any) { issues = append(issues, fmt.Sprintf(format, args...)) }

	if len(s.Nodes) == 0 {
		addf("no nodes declared")
	}
	switch {
	case s.Entry == "":
		addf("entry node not set")
	case s.Entry == End:
		addf("entry must not be %s", End)
	default:
		if _, ok := s.Nodes[s.Entry]; !ok {
			addf("entry node %q not declared", s.Entry)
		}
	}
	if s.Budget < 0 {
		addf("budget must not be negative")
	}

	for _, name := range sortedKeys(s.Channels) {
		ch := s.Channels[name]
		if !ch.Kind.Valid() {
			addf("channel %q has invalid kind %q", name, ch.Kind)
			continue
		}
		if ch.Reducer == "" {
			continue
		}
		if ch.Kind == core.Append {
			addf("append channel %q cannot declare a reducer", name)
			continue
		}
		if _, ok := s.lookupReducer(ch.Reducer); !ok {
			addf("channel %q uses unknown reducer %q", name, ch.Reducer)
		}
	}

	for _, id := range s.NodeIDs() {
		if id == End {
			addf("node id %q is reserved", End)
		}
		for _, out := range s.Nodes[id].Outputs {
			if _, ok := s.Channels[out]; !ok {
				addf("node %q writes undeclared channel %q", id, out)
			}
		}
		if r := s.Nodes[id].Retry; r != nil && r.MaxAttempts < 0 {
			addf("node %q has negative max_attempts", id)
		}
	}

	for _, src := range sortedKeys(s.Edges) {
		if _, ok := s.Nodes[src]; !ok {
			addf("edge source %q not declared", src)
		}
		for i, e := range s.Edges[src] {
			if e.Target == "" {
				addf("edge %d of %q has no target", i, src)
				continue
			}
			if _, ok := s.Nodes[e.Target]; !ok && e.Target != End {
				addf("edge %q -> %q targets an undeclared node", src, e.Target)
			}
			if e.Predicate == nil && e.When != "" {
				if _, err := ParseCondition(e.When); err != nil {
					addf("edge %q -> %q: %v", src, e.Target, err)
				}
			}
		}
	}

	for _, name := range sortedKeys(s.Subgraphs) {
		sub := s.Subgraphs[name]
		if sub == nil {
			addf("subgraph %q is empty", name)
			continue
		}
		if err := sub.validate(path + "/" + name); err != nil {
			if errors.Is(err, core.ErrUnknownNodeKind) {
				return err
			}
			addf("subgraph %q: %s", name, strings.TrimPrefix(err.Error(), core.ErrInvalidGraphSpec.Error()+": "))
		}
	}

	if len(issues) > 0 {
		return core.InvalidSpec("%s: %s", path, strings.Join(issues, "; "))
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
