package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronosend/internal/model"
	"chronosend/internal/recurrence"
	logx "chronosend/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state", "chronosend.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestTaskCRUDKeepsMediaOrder(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	task := model.Task{
		ID: "t1", Phone: "15551234567", Text: "hi",
		MediaPaths: []string{"b.png", "a.png", "c.pdf"},
		Recurrence: recurrence.Weekly, ScheduleDate: "2025-03-10", ScheduleTime: "09:00",
		Description: "Monday 09:00", Owner: "ops@example.com", CreatedAt: time.Unix(1700000000, 0),
	}
	require.NoError(t, st.CreateTask(ctx, task))

	got, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.png", "a.png", "c.pdf"}, got.MediaPaths)
	assert.Equal(t, recurrence.Weekly, got.Recurrence)
	assert.True(t, got.CreatedAt.Equal(task.CreatedAt))

	got.Text = "changed"
	got.MediaPaths = []string{"z.png"}
	require.NoError(t, st.UpdateTask(ctx, got))
	got, err = st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Text)
	assert.Equal(t, []string{"z.png"}, got.MediaPaths)

	ref, err := st.MediaReferenced(ctx, "z.png")
	require.NoError(t, err)
	assert.True(t, ref)
	ref, err = st.MediaReferenced(ctx, "a.png")
	require.NoError(t, err)
	assert.False(t, ref)

	require.NoError(t, st.DeleteTask(ctx, "t1"))
	_, err = st.GetTask(ctx, "t1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.ErrorIs(t, st.DeleteTask(ctx, "t1"), ErrNotFound)
	ref, err = st.MediaReferenced(ctx, "z.png")
	require.NoError(t, err)
	assert.False(t, ref)
}

func TestListActiveTasksExcludesPaused(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.CreateTask(ctx, model.Task{ID: id, Phone: "1", Recurrence: recurrence.Daily, ScheduleTime: "09:00", CreatedAt: time.Unix(int64(i), 0)}))
	}
	require.NoError(t, st.SetPaused(ctx, "b", true))
	assert.ErrorIs(t, st.SetPaused(ctx, "missing", true), ErrNotFound)

	active, err := st.ListActiveTasks(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "c", active[1].ID)

	all, err := st.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[1].Paused)
}

func TestSendWriteNeverRevertsAck(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	gw := time.Unix(1700000000, 0)

	// The ack lands first and carries a gateway time older than the local send clock.
	require.NoError(t, st.UpsertReceipt(ctx, model.Receipt{MessageID: "m1", Ack: model.AckDelivered, Acked: true, UpdatedAt: gw}))
	require.NoError(t, st.UpsertReceipt(ctx, model.Receipt{MessageID: "m1", TaskID: "t1", Ack: model.AckSent, UpdatedAt: gw.Add(time.Hour)}))

	r, err := st.GetReceipt(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "t1", r.TaskID)
	assert.Equal(t, model.AckDelivered, r.Ack)
	assert.True(t, r.Acked)
	assert.True(t, r.UpdatedAt.Equal(gw))

	_, err = st.GetReceipt(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAckReplacesSendWriteRegardlessOfClock(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	local := time.Unix(1700000000, 900_000_000)

	require.NoError(t, st.UpsertReceipt(ctx, model.Receipt{MessageID: "m1", TaskID: "t1", Ack: model.AckSent, UpdatedAt: local}))
	r, err := st.GetReceipt(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, r.Acked)

	// Same second as the send, truncated by the gateway.
	require.NoError(t, st.UpsertReceipt(ctx, model.Receipt{MessageID: "m1", Ack: model.AckDelivered, Acked: true, UpdatedAt: local.Truncate(time.Second)}))
	r, err = st.GetReceipt(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.AckDelivered, r.Ack)
	assert.True(t, r.Acked)
	assert.Equal(t, "t1", r.TaskID, "task reference is never cleared")

	// Between acks the newer gateway time wins and equal times apply in arrival order.
	require.NoError(t, st.UpsertReceipt(ctx, model.Receipt{MessageID: "m1", Ack: model.AckRead, Acked: true, UpdatedAt: local.Truncate(time.Second)}))
	require.NoError(t, st.UpsertReceipt(ctx, model.Receipt{MessageID: "m1", Ack: model.AckDelivered, Acked: true, UpdatedAt: local.Add(-time.Minute)}))
	r, err = st.GetReceipt(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.AckRead, r.Ack)
}

func TestListReceiptsJoinsTasks(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.CreateTask(ctx, model.Task{ID: "t1", Phone: "15551234567", Text: "hi", Recurrence: recurrence.Daily, ScheduleTime: "09:00"}))
	require.NoError(t, st.UpsertReceipt(ctx, model.Receipt{MessageID: "m1", TaskID: "t1", Ack: model.AckSent, UpdatedAt: now}))
	require.NoError(t, st.UpsertReceipt(ctx, model.Receipt{MessageID: "m2", TaskID: "gone", Ack: model.AckRead, Acked: true, UpdatedAt: now.Add(time.Second)}))

	views, err := st.ListReceipts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "m2", views[0].MessageID)
	assert.True(t, views[0].Acked)
	assert.False(t, views[1].Acked)
	assert.Empty(t, views[0].Phone, "receipts of deleted tasks stay listed")
	assert.Equal(t, "15551234567", views[1].Phone)
	assert.Equal(t, recurrence.Daily, views[1].Recurrence)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(context.Background(), Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err, "dsn required")
}
