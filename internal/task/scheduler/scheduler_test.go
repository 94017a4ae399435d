package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronosend/internal/model"
	"chronosend/internal/recurrence"
	"chronosend/internal/task/engine"
	logx "chronosend/pkg/logx"
)

type firedLog struct {
	mu    sync.Mutex
	tasks []model.Task
	ch    chan model.Task
}

func newFiredLog() *firedLog { return &firedLog{ch: make(chan model.Task, 16)} }

func (f *firedLog) fire(ctx context.Context, t model.Task) error {
	f.mu.Lock()
	f.tasks = append(f.tasks, t)
	f.mu.Unlock()
	f.ch <- t
	return nil
}

func newTestScheduler(t *testing.T) (*Service, *firedLog) {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 2}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{Timezone: "UTC", Overlap: engine.OverlapSkipIfRunning}, eng, logx.Nop(), nil)
	fl := newFiredLog()
	s.SetFireFunc(fl.fire)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s, fl
}

func dailyTask(id string) model.Task {
	return model.Task{ID: id, Phone: "15551234567", Text: "hi", Recurrence: recurrence.Daily, ScheduleTime: "09:00"}
}

func TestScheduleCancelLeavesNoJob(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)

	require.NoError(t, s.Schedule(dailyTask("a")))
	assert.True(t, s.Has("a"))
	assert.True(t, s.Cancel("a"))
	assert.False(t, s.Has("a"))
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Cancel("a"), "cancel of absent job is a no-op")
}

func TestRescheduleReplacesJob(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)
	s.Start(context.Background())

	require.NoError(t, s.Schedule(dailyTask("a")))
	require.NoError(t, s.Schedule(dailyTask("a")))
	upd := dailyTask("a")
	upd.ScheduleTime = "10:15"
	require.NoError(t, s.Reschedule(upd))

	snap := s.Snapshot()
	require.Len(t, snap.Jobs, 1)
	assert.Equal(t, "15 10 * * *", snap.Jobs[0].Spec)
	assert.Equal(t, 10, snap.Jobs[0].Next.Hour())
	assert.Equal(t, 15, snap.Jobs[0].Next.Minute())
}

func TestScheduleRejectsBadScheduleWithoutTouchingExistingJob(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)

	require.NoError(t, s.Schedule(dailyTask("a")))
	bad := dailyTask("a")
	bad.ScheduleTime = "25:99"
	err := s.Schedule(bad)
	assert.ErrorIs(t, err, recurrence.ErrInvalidSchedule)
	assert.True(t, s.Has("a"))
}

func TestPastDueOneShotFiresOnStartAndLeavesMap(t *testing.T) {
	t.Parallel()
	s, fl := newTestScheduler(t)

	task := model.Task{ID: "once", Phone: "1", Text: "x", Recurrence: recurrence.Once, ScheduleDate: "2020-01-01", ScheduleTime: "10:00"}
	require.NoError(t, s.Schedule(task))
	assert.True(t, s.Has("once"), "registered before start")

	s.Start(context.Background())
	select {
	case got := <-fl.ch:
		assert.Equal(t, "once", got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot never fired")
	}
	require.Eventually(t, func() bool { return !s.Has("once") }, time.Second, 10*time.Millisecond)
}

// refusingExecutor rejects the first n enqueues, then hands tasks to the engine.
type refusingExecutor struct {
	mu     sync.Mutex
	refuse int
	calls  int
	next   Executor
}

func (r *refusingExecutor) Enqueue(t engine.Task) error {
	r.mu.Lock()
	r.calls++
	refused := r.calls <= r.refuse
	r.mu.Unlock()
	if refused {
		return engine.ErrQueueFull
	}
	return r.next.Enqueue(t)
}

func TestRefusedOneShotKeepsHandleAndRetries(t *testing.T) {
	t.Parallel()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	exe := &refusingExecutor{refuse: 1, next: eng}
	s := New(Config{Timezone: "UTC"}, exe, logx.Nop(), nil)
	s.retryDelay = 50 * time.Millisecond
	fl := newFiredLog()
	s.SetFireFunc(fl.fire)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})

	s.Start(context.Background())
	require.NoError(t, s.Schedule(model.Task{ID: "once", Phone: "1", Text: "x"}))

	select {
	case got := <-fl.ch:
		assert.Equal(t, "once", got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("refused one-shot was never retried")
	}
	require.Eventually(t, func() bool { return !s.Has("once") }, time.Second, 10*time.Millisecond)

	exe.mu.Lock()
	defer exe.mu.Unlock()
	assert.Equal(t, 2, exe.calls)
}

func TestRefusedOneShotStaysRegisteredWhileStopped(t *testing.T) {
	t.Parallel()
	exe := &refusingExecutor{refuse: 1 << 30}
	s := New(Config{Timezone: "UTC"}, exe, logx.Nop(), nil)
	s.retryDelay = time.Hour
	s.SetFireFunc(func(context.Context, model.Task) error { return nil })

	s.Start(context.Background())
	require.NoError(t, s.Schedule(model.Task{ID: "once", Phone: "1", Text: "x"}))
	require.Eventually(t, func() bool {
		exe.mu.Lock()
		defer exe.mu.Unlock()
		return exe.calls == 1
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.True(t, s.Has("once"), "a refused firing must not drop the one-shot")
}

func TestImmediateTaskFiresRightAway(t *testing.T) {
	t.Parallel()
	s, fl := newTestScheduler(t)
	s.Start(context.Background())

	require.NoError(t, s.Schedule(model.Task{ID: "now", Phone: "1", Text: "x"}))
	select {
	case got := <-fl.ch:
		assert.Equal(t, "now", got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("immediate task never fired")
	}
}

func TestCanceledOneShotNeverFires(t *testing.T) {
	t.Parallel()
	s, fl := newTestScheduler(t)
	s.Start(context.Background())

	at := time.Now().UTC().Add(2 * time.Minute)
	task := model.Task{ID: "later", Recurrence: recurrence.Once, ScheduleDate: at.Format("2006-01-02"), ScheduleTime: at.Format("15:04")}
	require.NoError(t, s.Schedule(task))
	require.True(t, s.Cancel("later"))

	select {
	case got := <-fl.ch:
		t.Fatalf("canceled task fired: %s", got.ID)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRunNowFiresRegisteredJob(t *testing.T) {
	t.Parallel()
	s, fl := newTestScheduler(t)
	task := dailyTask("d")
	require.NoError(t, s.Schedule(task))

	require.NoError(t, s.RunNow(task))
	select {
	case got := <-fl.ch:
		assert.Equal(t, "d", got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("run now never fired")
	}
	assert.True(t, s.Has("d"), "recurring job survives an ad-hoc firing")
}

type fakeSource struct {
	tasks []model.Task
	err   error
}

func (f fakeSource) ListActiveTasks(context.Context) ([]model.Task, error) { return f.tasks, f.err }

func TestRehydrateSkipsMalformedTask(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)

	src := fakeSource{tasks: []model.Task{
		dailyTask("1"),
		{ID: "2", Recurrence: recurrence.Hourly, ScheduleTime: "30"},
		{ID: "3", Recurrence: recurrence.Weekly, ScheduleDate: "2025-03-10", ScheduleTime: "09:00"},
		{ID: "bad", Recurrence: recurrence.Monthly, ScheduleDate: "2025-03-10", ScheduleTime: "25:99"},
		{ID: "5", Recurrence: recurrence.Yearly, ScheduleDate: "2025-03-10", ScheduleTime: "14:05"},
	}}
	rep, err := s.Rehydrate(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Loaded)
	assert.Equal(t, 4, rep.Scheduled)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, "bad", rep.Skipped[0].TaskID)
	assert.Equal(t, 4, s.Len())
	assert.False(t, s.Has("bad"))
}

func TestRehydrateStoreFailureIsFatal(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)
	boom := errors.New("db down")
	_, err := s.Rehydrate(context.Background(), fakeSource{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestAddHousekeeping(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)

	require.NoError(t, s.AddHousekeeping("prune", "0 3 * * *", func(context.Context) error { return nil }))
	require.NoError(t, s.AddHousekeeping("prune", "0 4 * * *", func(context.Context) error { return nil }))
	assert.Error(t, s.AddHousekeeping("bad", "not a spec", func(context.Context) error { return nil }))

	snap := s.Snapshot()
	require.Len(t, snap.Chores, 1)
	assert.Equal(t, "0 4 * * *", snap.Chores[0].Spec)
	assert.Equal(t, 0, s.Len(), "housekeeping is not a task job")
}

func TestApplyTimezoneKeepsJobs(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)
	s.Start(context.Background())
	require.NoError(t, s.Schedule(dailyTask("a")))

	s.Apply(Config{Timezone: "Asia/Jakarta", Overlap: engine.OverlapSkipIfRunning})
	snap := s.Snapshot()
	assert.Equal(t, "Asia/Jakarta", snap.Timezone)
	require.Len(t, snap.Jobs, 1)
	assert.Equal(t, "0 9 * * *", snap.Jobs[0].Spec)
}
