package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/graph"
	"github.com/hupe1980/agentgraph/internal/testutil"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/tool"
)

func TestModelCallRendersPrompt(t *testing.T) {
	mock := model.NewMockModel("m", "mock")
	mock.AddResponse("Q: why?", "because")
	reg := NewRegistry(func(d *Deps) { d.Models = mockGateway(mock) })

	spec := graph.NewBuilder("t").
		Channel("question", core.Overwrite).
		Channel("answer", core.Overwrite).
		Node("respond", graph.ModelCall, []string{"answer"}, map[string]any{
			"provider":     "mock",
			"instructions": "Be {{.tone}}.",
			"prompt":       "Q: {{.question}}",
			"metadata":     map[string]any{"task": "qa"},
		}).
		Entry("respond").
		MustBuild()

	st := testutil.NewStateBuilder().Set("question", "why?").Set("tone", "brief").Build(t)
	delta, err := resolve(t, reg, spec, "respond").Invoke(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, core.Delta{"answer": "because"}, delta)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Be brief.", reqs[0].Instructions)
	assert.Equal(t, map[string]string{"task": "qa"}, reqs[0].Metadata)
	require.Len(t, reqs[0].Contents, 1)
	assert.Equal(t, "user", reqs[0].Contents[0].Role)
}

func TestModelCallExtendsHistory(t *testing.T) {
	mock := model.NewMockModel("m", "mock")
	mock.AddResponse("how are you?", "fine")
	reg := NewRegistry(func(d *Deps) { d.Models = mockGateway(mock) })

	spec := graph.NewBuilder("t").
		Channel("question", core.Overwrite).
		Channel("messages", core.Append).
		Channel("answer", core.Overwrite).
		Node("chat", graph.ModelCall, []string{"messages", "answer"}, map[string]any{
			"provider": "mock",
			"history":  "messages",
			"prompt":   "{{.question}}",
		}).
		Entry("chat").
		MustBuild()

	st := testutil.NewStateBuilder().
		Set("question", "how are you?").
		Append("messages",
			core.Message{Role: "user", Content: "hi"},
			core.Message{Role: "assistant", Content: "hello"},
		).
		Build(t)

	delta, err := resolve(t, reg, spec, "chat").Invoke(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "fine", delta["answer"])
	assert.Equal(t, []any{
		core.Message{Role: "user", Content: "how are you?"},
		core.Message{Role: "assistant", Content: "fine"},
	}, delta["messages"])

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Contents, 3)
	assert.Equal(t, "hi", reqs[0].Contents[0].Text())
	assert.Equal(t, "assistant", reqs[0].Contents[1].Role)
}

func TestModelCallExposesToolsAndKeepsCalls(t *testing.T) {
	mock := model.NewMockModel("m", "mock")
	mock.AddContentResponse("add 1 and 2", testutil.NewContentBuilder().
		FunctionCall("c1", "sum", `{"a":1,"b":2}`).
		Build())

	reg := NewRegistry(func(d *Deps) {
		d.Models = mockGateway(mock)
		d.Tools = tool.NewRegistry(sumTool())
	})
	spec := graph.NewBuilder("t").
		Channel("messages", core.Append).
		Node("plan", graph.ModelCall, []string{"messages"}, map[string]any{
			"provider": "mock",
			"history":  "messages",
			"prompt":   "add 1 and 2",
			"tools":    []any{"sum"},
		}).
		Entry("plan").
		MustBuild()

	delta, err := resolve(t, reg, spec, "plan").Invoke(context.Background(), core.NewState())
	require.NoError(t, err)

	msgs := delta["messages"].([]any)
	require.Len(t, msgs, 2)
	reply := msgs[1].(core.Message)
	assert.Equal(t, "assistant", reply.Role)
	assert.Equal(t, []core.FunctionCall{{ID: "c1", Name: "sum", Arguments: `{"a":1,"b":2}`}}, reply.ToolCalls)

	reqs := mock.Requests()
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "sum", reqs[0].Tools[0].Function.Name)
}

func TestModelCallPropagatesProviderErrors(t *testing.T) {
	mock := model.NewMockModel("m", "mock")
	mock.FailNext(model.FromStatus("mock", 401, assert.AnError))
	reg := NewRegistry(func(d *Deps) { d.Models = mockGateway(mock) })

	spec := graph.NewBuilder("t").
		Channel("answer", core.Overwrite).
		Node("respond", graph.ModelCall, []string{"answer"}, map[string]any{"provider": "mock", "prompt": "hi"}).
		Entry("respond").
		MustBuild()

	_, err := resolve(t, reg, spec, "respond").Invoke(context.Background(), core.NewState())
	var pe *model.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.Permanent, pe.Kind)
}
