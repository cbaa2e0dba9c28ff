package tool

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
)

// -------------------- FunctionTool Tests --------------------

var sumParams = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"a": map[string]any{"type": "number"},
		"b": map[string]any{"type": "number"},
	},
	"required": []string{"a", "b"},
}

func newToolContext(t *testing.T, values map[string]any) *core.ToolContext {
	t.Helper()
	st, err := core.NewStateFrom(values)
	require.NoError(t, err)
	return core.NewToolContext(context.Background(), "node", "fc1", st, logging.NoOpLogger{})
}

func newSumTool() *FunctionTool {
	return NewFunctionTool("sum", "Add numbers", sumParams, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})
}

func TestFunctionTool_Success(t *testing.T) {
	result, err := newSumTool().Call(newToolContext(t, nil), map[string]any{"a": 2, "b": 3.5})
	require.NoError(t, err)
	assert.Equal(t, 5.5, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	_, err := newSumTool().Call(newToolContext(t, nil), map[string]any{"a": 1})
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.Equal(t, "sum", toolErr.Tool)

	_, err = newSumTool().Call(newToolContext(t, nil), map[string]any{"a": "x", "b": 1})
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
}

func TestFunctionTool_InvalidSchema(t *testing.T) {
	broken := NewFunctionTool("broken", "Broken", map[string]any{"type": 7}, func(*core.ToolContext, map[string]any) (any, error) {
		return nil, nil
	})
	_, err := broken.Call(newToolContext(t, nil), nil)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	execTool := NewFunctionTool("fail", "Fails", params, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := execTool.Call(newToolContext(t, nil), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.Equal(t, "boom", toolErr.Message)
}

func TestFunctionTool_ForwardsToolError(t *testing.T) {
	custom := NewToolError("quota", "over quota", "QUOTA")
	execTool := NewFunctionTool("quota", "Quota", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, custom
	})
	_, err := execTool.Call(newToolContext(t, nil), nil)
	assert.Same(t, custom, err)
}

func TestFunctionTool_FromStruct(t *testing.T) {
	type greetArgs struct {
		Name string `json:"name" description:"Who to greet"`
	}
	greet := NewFunctionToolFromStruct("greet", "Greets", greetArgs{}, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return "hello " + args["name"].(string), nil
	})
	out, err := greet.Call(newToolContext(t, nil), map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "hello ada", out)
	assert.Equal(t, "greet", greet.Name())
	assert.Equal(t, "Greets", greet.Description())
	assert.Equal(t, []string{"name"}, greet.Parameters()["required"])
}

func TestFunctionTool_ConcurrentCalls(t *testing.T) {
	sum := newSumTool()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := sum.Call(newToolContext(t, nil), map[string]any{"a": i, "b": 1})
			assert.NoError(t, err)
			assert.Equal(t, float64(i+1), out)
		}(i)
	}
	wg.Wait()
}

// -------------------- Registry Tests --------------------

func TestRegistry(t *testing.T) {
	r := NewRegistry(newSumTool())
	require.NoError(t, r.Register(NewStateReaderTool()))
	assert.Error(t, r.Register(newSumTool()))

	assert.Equal(t, []string{"read_state", "sum"}, r.Names())

	got, ok := r.Get("sum")
	require.True(t, ok)
	assert.Equal(t, "sum", got.Name())

	all, err := r.Lookup()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = r.Lookup("sum", "missing")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeNotFound, toolErr.Code)
}

// -------------------- State Reader Tests --------------------

func TestStateReaderTool(t *testing.T) {
	tc := newToolContext(t, map[string]any{"answer": "42", "secret": "x"})

	out, err := NewStateReaderTool().Call(tc, map[string]any{"channel": "answer"})
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	_, err = NewStateReaderTool().Call(tc, map[string]any{"channel": "nope"})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)

	restricted := NewStateReaderTool("answer")
	_, err = restricted.Call(tc, map[string]any{"channel": "secret"})
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
}

// -------------------- ToolError Formatting --------------------

func TestToolErrorFormatting(t *testing.T) {
	err := NewToolError("demo", "something failed", "E123")
	assert.Contains(t, err.Error(), "E123")
	assert.Contains(t, err.Error(), "demo")

	plain := &ToolError{Tool: "demo", Message: "m"}
	assert.Equal(t, "tool error in demo: m", plain.Error())
}
