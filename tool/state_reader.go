package tool

import (
	"fmt"

	"github.com/hupe1980/agentgraph/core"
)

// NewStateReaderTool exposes read access to execution state channels so a
// model can pull context it was not prompted with.
func NewStateReaderTool(allowed ...string) *FunctionTool {
	allow := map[string]bool{}
	for _, ch := range allowed {
		allow[ch] = true
	}
	channel := map[string]any{"type": "string", "description": "State channel to read"}
	if len(allowed) > 0 {
		channel["enum"] = allowed
	}
	return NewFunctionTool(
		"read_state",
		"Read the current value of an execution state channel.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"channel": channel},
			"required":   []string{"channel"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			name, _ := args["channel"].(string)
			if len(allow) > 0 && !allow[name] {
				return nil, NewToolError("read_state", fmt.Sprintf("channel %q not readable", name), CodeValidation)
			}
			v, ok := tc.GetState(name)
			if !ok {
				return nil, fmt.Errorf("channel %q not set", name)
			}
			return v, nil
		},
	)
}
