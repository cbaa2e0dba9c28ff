package model

import (
	"context"
	"encoding/json"

	"github.com/hupe1980/agentgraph/core"
)

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction describes the concrete function target of a tool call.
type ToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // JSON string of arguments
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by nodes.
type Request struct {
	Instructions string            `json:"instructions"` // Instructions for the model
	Contents     []core.Content    `json:"contents"`     // Higher-level content converted to provider messages
	Tools        []ToolDefinition  `json:"tools,omitempty"`
	Stream       bool              `json:"stream,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"` // Routing hints consumed by the gateway selector
}

// WithSystem returns a copy of the request whose contents start with the
// instructions as a system message. Providers that accept a separate system
// field extract it again.
func (r Request) WithSystem() Request {
	if r.Instructions == "" {
		return r
	}
	contents := make([]core.Content, 0, len(r.Contents)+1)
	contents = append(contents, core.NewTextContent("system", r.Instructions))
	contents = append(contents, r.Contents...)
	r.Contents = contents
	return r
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model. The
// gateway returns a single final Response with Provider and Model filled in.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"` // Indicates if this is a partial response
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
	Provider     string       `json:"provider,omitempty"`
	Model        string       `json:"model,omitempty"`
}

// Text returns the concatenated text parts of the response.
func (r *Response) Text() string { return r.Content.Text() }

// ToolCalls returns the function calls requested by the model.
func (r *Response) ToolCalls() []core.FunctionCall { return r.Content.FunctionCalls() }

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "local", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface a provider implements. Generate streams
// zero or more partial responses followed by one final response; failures are
// reported on the error channel. Both channels are closed when done.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}
