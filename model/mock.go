package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentgraph/core"
)

// MockModel is a lightweight in‑memory Model useful for tests & examples.
// Canned replies are keyed by the text of the last request content; failures
// queued with FailNext are returned before any reply is produced.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]core.Content
	failures  []error
	requests  []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]core.Content),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.AddContentResponse(prompt, core.NewTextContent("assistant", response))
}

// AddContentResponse registers a canned reply that may carry function calls.
func (m *MockModel) AddContentResponse(prompt string, content core.Content) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = content
}

// FailNext queues errors returned by the next len(errs) calls.
func (m *MockModel) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate invocations.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockModel) next(req Request) (core.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return core.Content{}, err
	}
	if len(req.Contents) == 0 {
		return core.Content{}, fmt.Errorf("no contents provided")
	}
	inputText := req.Contents[len(req.Contents)-1].Text()
	if c, ok := m.responses[inputText]; ok {
		return c, nil
	}
	return core.NewTextContent("assistant", fmt.Sprintf("Mock response to: %s", inputText)), nil
}

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		content, err := m.next(req)
		if err != nil {
			errCh <- err
			return
		}
		finish := "stop"
		if len(content.FunctionCalls()) > 0 {
			finish = "tool_calls"
		}
		if req.Stream {
			for _, r := range content.Text() {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{
					Partial: true,
					Content: core.NewTextContent("assistant", string(r)),
				}:
				}
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{
			Content:      content,
			FinishReason: finish,
			Usage:        &TokenUsage{PromptTokens: len(req.Contents), CompletionTokens: 1, TotalTokens: len(req.Contents) + 1},
		}:
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
