package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/agentgraph/core"
)

// Condition is a parsed edge condition.
//
// Grammar:
//
//	Condition ::= Clause ( '&&' Clause )*
//	Clause    ::= Key | '!' Key | Key Op Literal
//	Key       ::= ['state.'] Path     (Path is dot separated)
//	Op        ::= '=' | '!=' | '<' | '<=' | '>' | '>='
//
// Missing keys resolve to the empty string. '=' and '!=' compare the string
// rendering of the value; the ordering operators compare numerically and are
// false when either side is not a number. A bare key is truthy unless it is
// empty, "false", "0" or "no".
type Condition struct {
	src     string
	clauses []clause
}

type clause struct {
	key    string
	op     string // "" for bare key
	negate bool
	want   string
}

// operators ordered so two-char operators are matched before their prefixes.
var operators = []string{"!=", "<=", ">=", "=", "<", ">"}

// ParseCondition compiles a condition expression. The empty string yields a
// condition that is always true.
func ParseCondition(src string) (*Condition, error) {
	c := &Condition{src: strings.TrimSpace(src)}
	if c.src == "" {
		return c, nil
	}
	for _, raw := range strings.Split(c.src, "&&") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, fmt.Errorf("invalid condition %q: empty clause", src)
		}
		cl, err := parseClause(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid condition %q: %w", src, err)
		}
		c.clauses = append(c.clauses, cl)
	}
	return c, nil
}

func parseClause(raw string) (clause, error) {
	for _, op := range operators {
		idx := strings.Index(raw, op)
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(raw[:idx])
		want := strings.TrimSpace(raw[idx+len(op):])
		if key == "" {
			return clause{}, fmt.Errorf("clause %q has no key", raw)
		}
		want = strings.Trim(want, `"'`)
		if op != "=" && op != "!=" {
			if _, err := strconv.ParseFloat(want, 64); err != nil {
				return clause{}, fmt.Errorf("clause %q compares against non-number %q", raw, want)
			}
		}
		return clause{key: key, op: op, want: want}, nil
	}
	cl := clause{key: raw}
	if strings.HasPrefix(raw, "!") {
		cl.negate = true
		cl.key = strings.TrimSpace(raw[1:])
	}
	if cl.key == "" || strings.ContainsAny(cl.key, " \t") {
		return clause{}, fmt.Errorf("invalid clause %q", raw)
	}
	return cl, nil
}

// String returns the source expression.
func (c *Condition) String() string { return c.src }

// Eval evaluates the condition against a state.
func (c *Condition) Eval(st *core.State) bool {
	for _, cl := range c.clauses {
		if !cl.eval(st) {
			return false
		}
	}
	return true
}

func (cl clause) eval(st *core.State) bool {
	v, ok := resolve(st, cl.key)
	got := ""
	if ok && v != nil {
		got = render(v)
	}
	switch cl.op {
	case "":
		t := truthy(got)
		if cl.negate {
			return !t
		}
		return t
	case "=":
		return got == cl.want
	case "!=":
		return got != cl.want
	}
	a, err := strconv.ParseFloat(got, 64)
	if err != nil {
		return false
	}
	b, _ := strconv.ParseFloat(cl.want, 64)
	switch cl.op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	default:
		return a >= b
	}
}

func resolve(st *core.State, key string) (any, bool) {
	if st == nil {
		return nil, false
	}
	key = strings.TrimPrefix(key, "state.")
	parts := strings.Split(key, ".")
	v, ok := st.Get(parts[0])
	for _, p := range parts[1:] {
		if !ok {
			return nil, false
		}
		m, isMap := v.(map[string]any)
		if !isMap {
			return nil, false
		}
		v, ok = m[p]
	}
	return v, ok
}

func render(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		if len(t) == 0 {
			return ""
		}
	case map[string]any:
		if len(t) == 0 {
			return ""
		}
	}
	return fmt.Sprint(v)
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "", "false", "0", "no":
		return false
	default:
		return true
	}
}
