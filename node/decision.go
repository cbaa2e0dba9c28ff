package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/graph"
	"github.com/hupe1980/agentgraph/internal/util"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/retrieval"
)

// DecisionMode selects how a decision node computes its value.
type DecisionMode string

const (
	// RuleMode writes the value of the first rule whose condition holds.
	RuleMode DecisionMode = "rules"
	// StructuredMode asks a model for a JSON object.
	StructuredMode DecisionMode = "structured"
	// FusionMode merges several scored document channels into one ranking.
	FusionMode DecisionMode = "fusion"
)

// DecisionRule pairs a condition expression with the value written when it
// holds.
type DecisionRule struct {
	When  string `mapstructure:"when"`
	Value any    `mapstructure:"value"`
}

// DecisionConfig configures a decision node. The mode follows from which
// fields are set: Rules/Default, Prompt or Fuse.
//
//	config:
//	  rules:
//	    - {when: "score>0.8", value: answer}
//	    - {when: "docs", value: refine}
//	  default: search
type DecisionConfig struct {
	Rules   []DecisionRule `mapstructure:"rules"`
	Default any            `mapstructure:"default"`

	Prompt       string            `mapstructure:"prompt"`
	Instructions string            `mapstructure:"instructions"`
	Provider     string            `mapstructure:"provider"`
	Metadata     map[string]string `mapstructure:"metadata"`
	Schema       map[string]any    `mapstructure:"schema"`
	Fields       map[string]string `mapstructure:"fields"` // object field -> channel

	Fuse []string `mapstructure:"fuse"`
	K    int      `mapstructure:"k"`

	Output string `mapstructure:"output"`
}

func (c DecisionConfig) mode() (DecisionMode, error) {
	var modes []DecisionMode
	if len(c.Rules) > 0 || c.Default != nil {
		modes = append(modes, RuleMode)
	}
	if c.Prompt != "" {
		modes = append(modes, StructuredMode)
	}
	if len(c.Fuse) > 0 {
		modes = append(modes, FusionMode)
	}
	if len(modes) != 1 {
		return "", errors.New("exactly one of rules/default, prompt and fuse is required")
	}
	return modes[0], nil
}

// DecisionNode computes routing values from the state.
type DecisionNode struct {
	id     string
	mode   DecisionMode
	cfg    DecisionConfig
	output string
	conds  []*graph.Condition
	schema *util.Schema
	models ModelClient
}

func newDecisionNode(def Definition, deps Deps) (core.Executable, error) {
	var cfg DecisionConfig
	if err := decodeConfig(def.Spec.Config, &cfg); err != nil {
		return nil, err
	}
	n, err := NewDecisionNode(def, cfg, deps)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// NewDecisionNode builds a decision node from a typed config.
func NewDecisionNode(def Definition, cfg DecisionConfig, deps Deps) (*DecisionNode, error) {
	mode, err := cfg.mode()
	if err != nil {
		return nil, err
	}
	n := &DecisionNode{id: def.ID, mode: mode, cfg: cfg, models: deps.Models}

	fieldChannels := make([]string, 0, len(cfg.Fields))
	for field, ch := range cfg.Fields {
		if !def.Spec.Writes(ch) {
			return nil, fmt.Errorf("field %q targets undeclared output %q", field, ch)
		}
		fieldChannels = append(fieldChannels, ch)
	}
	if n.output, err = def.output(cfg.Output, fieldChannels...); err != nil {
		return nil, err
	}

	switch mode {
	case RuleMode:
		for _, r := range cfg.Rules {
			c, err := graph.ParseCondition(r.When)
			if err != nil {
				return nil, err
			}
			n.conds = append(n.conds, c)
		}
		if n.output == "" {
			return nil, errors.New("node declares no output for the decision")
		}
	case StructuredMode:
		if deps.Models == nil {
			return nil, errors.New("no model gateway configured")
		}
		if len(cfg.Schema) > 0 {
			if n.schema, err = util.CompileSchema(cfg.Schema); err != nil {
				return nil, fmt.Errorf("compile schema: %w", err)
			}
		}
		if n.output == "" && len(cfg.Fields) == 0 {
			return nil, errors.New("node declares no output for the decision")
		}
	case FusionMode:
		if cfg.K < 0 {
			return nil, errors.New("k must not be negative")
		}
		if n.output == "" {
			return nil, errors.New("node declares no output for the fused ranking")
		}
	}
	return n, nil
}

// Mode returns the mode the node runs in.
func (n *DecisionNode) Mode() DecisionMode { return n.mode }

// Invoke implements core.Executable.
func (n *DecisionNode) Invoke(ctx context.Context, st *core.State) (core.Delta, error) {
	switch n.mode {
	case StructuredMode:
		return n.structured(ctx, st)
	case FusionMode:
		return n.fuse(st)
	default:
		return n.route(st), nil
	}
}

func (n *DecisionNode) route(st *core.State) core.Delta {
	for i, c := range n.conds {
		if c.Eval(st) {
			return core.Delta{n.output: n.cfg.Rules[i].Value}
		}
	}
	if n.cfg.Default != nil {
		return core.Delta{n.output: n.cfg.Default}
	}
	return core.Delta{}
}

func (n *DecisionNode) structured(ctx context.Context, st *core.State) (core.Delta, error) {
	values := st.Values()
	prompt, err := util.RenderTemplate(n.cfg.Prompt, values)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	instructions, err := util.RenderTemplate(n.cfg.Instructions, values)
	if err != nil {
		return nil, fmt.Errorf("render instructions: %w", err)
	}

	resp, err := n.models.Complete(ctx, model.Request{
		Instructions: instructions,
		Contents:     []core.Content{core.NewTextContent("user", prompt)},
		Metadata:     n.cfg.Metadata,
	}, model.Selector{Provider: n.cfg.Provider})
	if err != nil {
		return nil, err
	}

	obj, err := ParseObject(resp.Text())
	if err != nil {
		return nil, err
	}
	if n.schema != nil {
		if err := n.schema.Validate(obj); err != nil {
			return nil, fmt.Errorf("structured output: %w", err)
		}
	}

	delta := core.Delta{}
	for field, ch := range n.cfg.Fields {
		if v, ok := obj[field]; ok {
			delta[ch] = v
		}
	}
	if n.output != "" {
		delta[n.output] = obj
	}
	return delta, nil
}

func (n *DecisionNode) fuse(st *core.State) (core.Delta, error) {
	lists := make([][]retrieval.ScoredDocument, 0, len(n.cfg.Fuse))
	for _, ch := range n.cfg.Fuse {
		if _, ok := st.Get(ch); !ok {
			continue
		}
		var docs []retrieval.ScoredDocument
		if err := st.Decode(ch, &docs); err != nil {
			return nil, fmt.Errorf("channel %q does not hold scored documents: %w", ch, err)
		}
		lists = append(lists, docs)
	}
	return core.Delta{n.output: retrieval.Fuse(n.cfg.K, lists...)}, nil
}

// ParseObject extracts a JSON object from model output. Markdown fences and
// common syntax slips (single quotes, trailing commas, missing brackets) are
// repaired before decoding.
func ParseObject(text string) (map[string]any, error) {
	text = stripFences(text)
	if text == "" {
		return nil, errors.New("structured output: empty response")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, nil
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, fmt.Errorf("structured output: repair: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, fmt.Errorf("structured output: not a JSON object: %w", err)
	}
	return obj, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
