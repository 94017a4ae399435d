package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"chronosend/internal/model"
	"chronosend/internal/recurrence"
	"chronosend/internal/task/engine"
	logx "chronosend/pkg/logx"
)

// Schedule registers the job for t, replacing any existing job for t.ID.
// A task without schedule fields is a one-shot due now.
func (s *Service) Schedule(t model.Task) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(t)
}

// Cancel removes the job for taskID. It reports whether a job existed.
// A firing already in progress is not interrupted.
func (s *Service) Cancel(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(taskID)
}

// Reschedule is Cancel followed by Schedule under one lock.
func (s *Service) Reschedule(t model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(t.ID)
	return s.scheduleLocked(t)
}

// RunNow enqueues an immediate firing outside the schedule. A registered job shares
// its overlap state with the ad-hoc firing; the job itself is left untouched.
func (s *Service) RunNow(t model.Task) error {
	s.mu.Lock()
	st := &engine.RunState{}
	if j, ok := s.jobs[t.ID]; ok {
		st = j.state
	}
	s.mu.Unlock()
	return s.enqueue(t, st)
}

func (s *Service) Has(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[taskID]
	return ok
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// AddHousekeeping registers a periodic job that is not tied to a task. Upsert by name.
func (s *Service) AddHousekeeping(name, spec string, fn func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if fn == nil {
		return errors.New("housekeeping func required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("housekeeping %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.chores[name]; ok {
		s.c.Remove(old.entryID)
	}
	ch := &chore{name: name, spec: spec, run: fn, state: &engine.RunState{}}
	if err := s.addChoreLocked(ch); err != nil {
		return err
	}
	s.chores[name] = ch
	s.log.Debug("housekeeping registered", logx.String("name", name), logx.String("spec", spec), logx.String("next", s.previewNextRunsLocked(spec, 3)))
	return nil
}

func (s *Service) addChoreLocked(ch *chore) error {
	id, err := s.c.AddFunc(ch.spec, func() {
		err := s.exe.Enqueue(engine.Task{
			Name:    "housekeeping:" + ch.name,
			Run:     ch.run,
			Overlap: engine.OverlapSkipIfRunning,
			State:   ch.state,
		})
		s.reportEnqueueError("housekeeping:"+ch.name, err)
	})
	if err != nil {
		return err
	}
	ch.entryID = id
	return nil
}

func (s *Service) resolveLocked(t model.Task) (recurrence.Trigger, error) {
	if t.Immediate() {
		return recurrence.Trigger{At: time.Now()}, nil
	}
	return recurrence.Resolve(t.Recurrence, t.ScheduleDate, t.ScheduleTime, s.loc)
}

func (s *Service) scheduleLocked(t model.Task) error {
	tr, err := s.resolveLocked(t)
	if err != nil {
		return err
	}
	s.cancelLocked(t.ID)

	j := &job{task: t, trigger: tr, state: &engine.RunState{}}
	if tr.OneShot() {
		if s.running {
			s.armLocked(t.ID, j)
		}
		s.jobs[t.ID] = j
		s.log.Debug("job registered", logx.String("task", t.ID), logx.Time("at", tr.At))
		return nil
	}

	spec := tr.CronSpec()
	id, err := s.c.AddFunc(spec, func() { s.trigger(t.ID, j) })
	if err != nil {
		return fmt.Errorf("register %s: %w", spec, err)
	}
	j.entryID = id
	s.jobs[t.ID] = j
	s.log.Debug("job registered", logx.String("task", t.ID), logx.String("spec", spec), logx.String("next", s.previewNextRunsLocked(spec, 3)))
	return nil
}

func (s *Service) cancelLocked(taskID string) bool {
	j, ok := s.jobs[taskID]
	if !ok {
		return false
	}
	if j.entryID != 0 {
		s.c.Remove(j.entryID)
	}
	if j.timer != nil {
		j.timer.Stop()
	}
	delete(s.jobs, taskID)
	s.log.Debug("job canceled", logx.String("task", taskID))
	return true
}

// armLocked starts the timer of a one-shot job. Past-due instants fire immediately.
func (s *Service) armLocked(taskID string, j *job) {
	delay := time.Until(j.trigger.At)
	if delay < 0 {
		delay = 0
	}
	j.timer = time.AfterFunc(delay, func() { s.trigger(taskID, j) })
}

// trigger runs on cron or timer goroutines. A one-shot handle leaves the map once its
// firing is queued; when the engine refuses it, the handle stays and is retried.
func (s *Service) trigger(taskID string, j *job) {
	s.mu.Lock()
	if cur, ok := s.jobs[taskID]; !ok || cur != j {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	err := s.enqueue(j.task, j.state)
	s.reportEnqueueError("task:"+taskID, err)
	if !j.trigger.OneShot() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.jobs[taskID]; !ok || cur != j {
		return
	}
	// an overlapping firing of the same one-shot is already running and will retire it
	if err == nil || errors.Is(err, engine.ErrOverlapSkip) {
		delete(s.jobs, taskID)
		return
	}
	j.timer = nil
	if s.running {
		j.timer = time.AfterFunc(s.retryDelay, func() { s.trigger(taskID, j) })
	}
	s.log.Debug("one-shot firing not queued; will retry",
		logx.String("task", taskID),
		logx.Duration("delay", s.retryDelay),
		logx.Bool("armed", s.running),
		logx.Err(err),
	)
}

func (s *Service) enqueue(t model.Task, st *engine.RunState) error {
	s.mu.Lock()
	fire := s.fire
	cfg := s.cfg
	s.mu.Unlock()
	if fire == nil {
		return errors.New("fire func not set")
	}
	return s.exe.Enqueue(engine.Task{
		ID:      t.ID,
		Name:    "task:" + t.ID,
		Timeout: cfg.FiringTimeout,
		Overlap: cfg.Overlap,
		State:   st,
		Run:     func(ctx context.Context) error { return fire(ctx, t) },
	})
}

// previewNextRunsLocked lists upcoming run times for debug logs. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	return strings.Join(nextRuns(sched, time.Now().In(s.loc), n), ", ")
}

func nextRuns(sched cron.Schedule, from time.Time, n int) []string {
	out := make([]string, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t.Format("2006-01-02 15:04"))
	}
	return out
}
