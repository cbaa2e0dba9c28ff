package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
)

func stateOf(t *testing.T, values map[string]any) *core.State {
	t.Helper()
	st, err := core.NewStateFrom(values)
	require.NoError(t, err)
	return st
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	st := stateOf(t, map[string]any{
		"question": "why",
		"notes":    []any{"a", map[string]any{"n": 1}},
		"score":    0.5,
	})
	rec := core.NewStepRecord(1, "retrieve", "", core.StepSuccess, 1)
	rec.Output = core.Delta{"notes": []any{"a"}}

	id, err := m.Save(ctx, "exec-1", 1, st, []string{"answer"}, WithRecords([]core.StepRecord{rec}), WithGraph("rag"))
	require.NoError(t, err)
	require.Len(t, string(id), 64)

	st.Set("question", "mutated")

	cp, err := m.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, cp.ID)
	assert.Equal(t, "exec-1", cp.ExecutionID)
	assert.Equal(t, "rag", cp.Graph)
	assert.Equal(t, 1, cp.Step)
	assert.Equal(t, []string{"answer"}, cp.Pending)
	assert.False(t, cp.Done())
	assert.Equal(t, "why", cp.State.GetString("question"))
	require.Len(t, cp.Records, 1)
	assert.Equal(t, rec.ID, cp.Records[0].ID)
	assert.Equal(t, rec.Output, cp.Records[0].Output)

	want := stateOf(t, map[string]any{
		"question": "why",
		"notes":    []any{"a", map[string]any{"n": 1}},
		"score":    0.5,
	})
	assert.True(t, want.Equal(cp.State))

	cp.State.Set("question", "changed after load")
	again, err := m.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "why", again.State.GetString("question"))
}

func TestSaveIsContentAddressed(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	st := stateOf(t, map[string]any{"x": 1})

	id1, err := m.Save(ctx, "exec", 2, st, []string{"b", "a"})
	require.NoError(t, err)
	id2, err := m.Save(ctx, "exec", 2, st.Clone(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	list, err := m.List(ctx, "exec")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, []string{"b", "a"}, list[0].Pending)

	id3, err := m.Save(ctx, "exec", 3, st, []string{"a", "b"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)

	id4, err := m.Save(ctx, "other", 2, st, []string{"a", "b"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id4)
}

func TestLatest(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	cp, err := m.Latest(ctx, "nothing")
	require.NoError(t, err)
	assert.Nil(t, cp)

	for step := 1; step <= 3; step++ {
		_, err := m.Save(ctx, "exec", step, stateOf(t, map[string]any{"step": step}), nil)
		require.NoError(t, err)
	}
	cp, err = m.Latest(ctx, "exec")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 3, cp.Step)
	assert.True(t, cp.Done())
}

func TestRetention(t *testing.T) {
	ctx := context.Background()
	m := NewManager(func(o *Options) { o.Retention = 2 })

	var ids []ID
	for step := 1; step <= 4; step++ {
		id, err := m.Save(ctx, "exec", step, stateOf(t, map[string]any{"step": step}), []string{"n"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	list, err := m.List(ctx, "exec")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[3], list[1].ID)

	_, err = m.Load(ctx, ids[0])
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Prune(ctx, "exec", 1))
	list, err = m.List(ctx, "exec")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ids[3], list[0].ID)
}

func TestHistoryFollowsParents(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	var parent ID
	var ids []ID
	for step := 1; step <= 3; step++ {
		id, err := m.Save(ctx, "exec", step, stateOf(t, map[string]any{"step": step}), []string{"n"}, WithParent(parent))
		require.NoError(t, err)
		ids = append(ids, id)
		parent = id
	}

	chain, err := m.History(ctx, ids[2])
	require.NoError(t, err)
	require.Len(t, chain, 3)
	for i, cp := range chain {
		assert.Equal(t, ids[i], cp.ID)
	}

	_, err = m.History(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentSavesSameExecution(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Save(ctx, "exec", i, stateOf(t, map[string]any{"i": fmt.Sprint(i)}), nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	list, err := m.List(ctx, "exec")
	require.NoError(t, err)
	assert.Len(t, list, 20)
}

func TestSaveRequiresExecutionID(t *testing.T) {
	_, err := NewManager().Save(context.Background(), "", 1, nil, nil)
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	_, err := Decode([]byte(`{"version":99,"checkpoint":{}}`))
	assert.ErrorContains(t, err, "unsupported envelope version")

	_, err = Decode([]byte(`{"version":1}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestMemoryStoreNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	created, err := s.Put(ctx, "e", "id", []byte("first"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Put(ctx, "e", "id", []byte("second"))
	require.NoError(t, err)
	assert.False(t, created)

	data, err := s.Get(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	require.NoError(t, s.Delete(ctx, "e", "id"))
	_, err = s.Get(ctx, "id")
	assert.ErrorIs(t, err, ErrNotFound)
	ids, err := s.List(ctx, "e")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
