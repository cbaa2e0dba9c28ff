package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/util"
	"github.com/hupe1980/agentgraph/model"
)

// ModelCallConfig configures a model_call node.
//
//	config:
//	  instructions: "You answer from the documents: {{json .docs}}"
//	  prompt: "{{.question}}"
//	  history: messages
//	  output: answer
//	  metadata: {task: answer}
type ModelCallConfig struct {
	// Provider pins the provider; otherwise the gateway routes by Metadata.
	Provider string            `mapstructure:"provider"`
	Metadata map[string]string `mapstructure:"metadata"`
	Rules    []model.Rule      `mapstructure:"rules"`

	// Instructions and Prompt are text/templates rendered over the state.
	Instructions string `mapstructure:"instructions"`
	Prompt       string `mapstructure:"prompt"`

	// History names an append channel of messages read as conversation and
	// extended with the prompt and the reply.
	History string `mapstructure:"history"`

	// Output receives the reply text. Defaults to the first declared output
	// other than History.
	Output string   `mapstructure:"output"`
	Tools  []string `mapstructure:"tools"`
	Stream bool     `mapstructure:"stream"`
}

// ModelCallNode sends a rendered request through the model gateway.
type ModelCallNode struct {
	id     string
	cfg    ModelCallConfig
	output string
	tools  []model.ToolDefinition
	models ModelClient
}

func newModelCallNode(def Definition, deps Deps) (core.Executable, error) {
	var cfg ModelCallConfig
	if err := decodeConfig(def.Spec.Config, &cfg); err != nil {
		return nil, err
	}
	n, err := NewModelCallNode(def, cfg, deps)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// NewModelCallNode builds a model_call node from a typed config.
func NewModelCallNode(def Definition, cfg ModelCallConfig, deps Deps) (*ModelCallNode, error) {
	if deps.Models == nil {
		return nil, errors.New("no model gateway configured")
	}
	if cfg.Prompt == "" && cfg.History == "" {
		return nil, errors.New("prompt or history is required")
	}
	if cfg.History != "" {
		if err := def.appendChannel(cfg.History); err != nil {
			return nil, err
		}
	}
	output, err := def.output(cfg.Output, cfg.History)
	if err != nil {
		return nil, err
	}
	if output == "" && cfg.History == "" {
		return nil, errors.New("node declares no output for the reply")
	}
	for _, r := range cfg.Rules {
		if err := r.ValidatePattern(); err != nil {
			return nil, err
		}
	}

	n := &ModelCallNode{id: def.ID, cfg: cfg, output: output, models: deps.Models}
	if len(cfg.Tools) > 0 {
		if deps.Tools == nil {
			return nil, errors.New("tools configured but no tool registry available")
		}
		tools, err := deps.Tools.Lookup(cfg.Tools...)
		if err != nil {
			return nil, err
		}
		for _, t := range tools {
			n.tools = append(n.tools, model.ToolDefinition{
				Type: "function",
				Function: model.FunctionDefinition{
					Name:        t.Name(),
					Description: t.Description(),
					Parameters:  t.Parameters(),
				},
			})
		}
	}
	return n, nil
}

// Invoke implements core.Executable.
func (n *ModelCallNode) Invoke(ctx context.Context, st *core.State) (core.Delta, error) {
	values := st.Values()
	instructions, err := util.RenderTemplate(n.cfg.Instructions, values)
	if err != nil {
		return nil, fmt.Errorf("render instructions: %w", err)
	}
	prompt, err := util.RenderTemplate(n.cfg.Prompt, values)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	var contents []core.Content
	if n.cfg.History != "" {
		history, err := readMessages(st, n.cfg.History)
		if err != nil {
			return nil, err
		}
		for _, m := range history {
			contents = append(contents, m.ToContent())
		}
	}

	var added []any
	if prompt != "" {
		user := core.Message{Role: "user", Content: prompt}
		contents = append(contents, user.ToContent())
		added = append(added, user)
	}
	if len(contents) == 0 {
		return nil, errors.New("nothing to send: prompt and history are empty")
	}

	resp, err := n.models.Complete(ctx, model.Request{
		Instructions: instructions,
		Contents:     contents,
		Tools:        n.tools,
		Stream:       n.cfg.Stream,
		Metadata:     n.cfg.Metadata,
	}, model.Selector{Provider: n.cfg.Provider, Rules: n.cfg.Rules})
	if err != nil {
		return nil, err
	}

	reply := core.MessageFromContent(resp.Content)
	reply.Role = "assistant"

	delta := core.Delta{}
	if n.output != "" {
		delta[n.output] = resp.Text()
	}
	if n.cfg.History != "" {
		delta[n.cfg.History] = append(added, reply)
	}
	return delta, nil
}
