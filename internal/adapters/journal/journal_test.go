package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/events"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_EmitAndList(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	require.NoError(t, j.Emit(ctx, events.TypeTaskStarted, map[string]any{"task_id": "t1", "objective": "x"}))
	require.NoError(t, j.Emit(ctx, events.TypePhaseStarted, map[string]any{"task_id": "t1", "phase": 1}))
	require.NoError(t, j.Emit(ctx, events.TypeTaskStarted, map[string]any{"task_id": "t2"}))
	require.NoError(t, j.Emit(ctx, events.TypeTaskCompleted, map[string]any{"task_id": "t1", "status": "completed"}))

	entries, err := j.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	types := make([]string, len(entries))
	for i, e := range entries {
		types[i] = e.Type
		assert.Equal(t, "t1", e.TaskID)
		assert.False(t, e.CreatedAt.IsZero())
	}
	assert.Equal(t, []string{events.TypeTaskStarted, events.TypePhaseStarted, events.TypeTaskCompleted}, types)
	assert.Equal(t, float64(1), entries[1].Payload["phase"])

	tasks, err := j.Tasks(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, tasks)
}

func TestJournal_ReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, j.Emit(ctx, events.TypeTaskStarted, map[string]any{"task_id": "t1"}))
	require.NoError(t, j.Close())

	j, err = Open(ctx, path)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, path, j.Path())
}

func TestJournal_AsEmitterSink(t *testing.T) {
	j := openTemp(t)
	var _ core.ProgressSink = j

	emit := events.NewEmitter(j, nil).ForTask("t9")
	emit.Emit(context.Background(), events.TypePlanCreated, map[string]any{"phases": 2})
	assert.Zero(t, emit.Failures())

	entries, err := j.List(context.Background(), "t9")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "t9", entries[0].Payload["task_id"])
}

func TestJournal_UnencodablePayload(t *testing.T) {
	j := openTemp(t)
	err := j.Emit(context.Background(), "x", map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}
