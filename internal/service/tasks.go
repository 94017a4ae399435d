// Package service holds the task use-cases behind the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"chronosend/internal/cache"
	"chronosend/internal/model"
	"chronosend/internal/recurrence"
	"chronosend/internal/storage"
	"chronosend/internal/transport"
	logx "chronosend/pkg/logx"
)

var ErrInvalidInput = errors.New("invalid input")

const (
	StatusSent      = "sent"
	StatusScheduled = "scheduled"
)

type Scheduler interface {
	Schedule(t model.Task) error
	Cancel(taskID string) bool
	Reschedule(t model.Task) error
	RunNow(t model.Task) error
	Location() *time.Location
}

type MediaStore interface {
	Save(originalName string, r io.Reader) (string, error)
	Remove(name string) error
}

type ReadyChecker interface {
	Ready() bool
}

type Deps struct {
	Store     storage.Store
	Scheduler Scheduler
	Media     MediaStore
	Transport ReadyChecker
	Cache     cache.ReceiptCache // optional
}

// Tasks implements create/list/update/pause/resume/delete over the store and the scheduler.
type Tasks struct {
	d   Deps
	log logx.Logger
	now func() time.Time
}

func New(d Deps, log logx.Logger) *Tasks {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tasks{d: d, log: log.With(logx.String("comp", "tasks")), now: time.Now}
}

type Upload struct {
	Name string
	Body io.Reader
}

type CreateInput struct {
	Phone        string
	Text         string
	Recurrence   string
	ScheduleDate string
	ScheduleTime string
	Owner        string
	Media        []Upload
}

type CreateResult struct {
	Status string      `json:"status"`
	Task   *model.Task `json:"task,omitempty"`
}

// Create validates the schedule, stores the task with its media and registers it.
// A task without schedule fields is sent right away and reported as "sent".
func (s *Tasks) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	t, err := s.buildTask(in)
	if err != nil {
		return CreateResult{}, err
	}
	immediate := t.Immediate()
	if immediate && s.d.Transport != nil && !s.d.Transport.Ready() {
		return CreateResult{}, transport.ErrNotReady
	}

	for _, up := range in.Media {
		name, err := s.d.Media.Save(up.Name, up.Body)
		if err != nil {
			s.removeMedia(ctx, t.MediaPaths)
			return CreateResult{}, fmt.Errorf("save media %q: %w", up.Name, err)
		}
		t.MediaPaths = append(t.MediaPaths, name)
	}

	if err := s.d.Store.CreateTask(ctx, t); err != nil {
		s.removeMedia(ctx, t.MediaPaths)
		return CreateResult{}, err
	}
	if err := s.d.Scheduler.Schedule(t); err != nil {
		_ = s.d.Store.DeleteTask(ctx, t.ID)
		s.removeMedia(ctx, t.MediaPaths)
		return CreateResult{}, err
	}

	s.log.Info("task created",
		logx.String("task_id", t.ID),
		logx.String("recurrence", string(t.Recurrence)),
		logx.String("when", t.Description),
		logx.Int("media", len(t.MediaPaths)),
	)
	if immediate {
		return CreateResult{Status: StatusSent}, nil
	}
	return CreateResult{Status: StatusScheduled, Task: &t}, nil
}

func (s *Tasks) buildTask(in CreateInput) (model.Task, error) {
	phone := model.NormalizePhone(in.Phone)
	if phone == "" {
		return model.Task{}, fmt.Errorf("%w: phone is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Text) == "" && len(in.Media) == 0 {
		return model.Task{}, fmt.Errorf("%w: text or media is required", ErrInvalidInput)
	}
	kind, err := recurrence.ParseKind(in.Recurrence)
	if err != nil {
		return model.Task{}, err
	}
	t := model.Task{
		ID:           uuid.NewString(),
		Phone:        phone,
		Text:         in.Text,
		Recurrence:   kind,
		ScheduleDate: strings.TrimSpace(in.ScheduleDate),
		ScheduleTime: strings.TrimSpace(in.ScheduleTime),
		Owner:        strings.TrimSpace(in.Owner),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.checkSchedule(&t); err != nil {
		return model.Task{}, err
	}
	return t, nil
}

// checkSchedule resolves the trigger up front so bad input never reaches the
// scheduler, and fills in the human description.
func (s *Tasks) checkSchedule(t *model.Task) error {
	if t.Immediate() {
		t.Description = "now"
		return nil
	}
	if _, err := recurrence.Resolve(t.Recurrence, t.ScheduleDate, t.ScheduleTime, s.d.Scheduler.Location()); err != nil {
		return err
	}
	t.Description = recurrence.Describe(t.Recurrence, t.ScheduleDate, t.ScheduleTime)
	return nil
}

func (s *Tasks) List(ctx context.Context) ([]model.Task, error) {
	return s.d.Store.ListTasks(ctx)
}

func (s *Tasks) Get(ctx context.Context, id string) (model.Task, error) {
	return s.d.Store.GetTask(ctx, id)
}

// Delete cancels and removes every listed task. Unknown ids are skipped. It
// returns the remaining tasks.
func (s *Tasks) Delete(ctx context.Context, ids []string) ([]model.Task, error) {
	for _, id := range ids {
		t, err := s.d.Store.GetTask(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			s.d.Scheduler.Cancel(id)
			continue
		}
		if err != nil {
			return nil, err
		}
		s.d.Scheduler.Cancel(id)
		if err := s.d.Store.DeleteTask(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		s.removeMedia(ctx, t.MediaPaths)
		s.log.Info("task deleted", logx.String("task_id", id))
	}
	return s.d.Store.ListTasks(ctx)
}

// UpdateInput carries optional changes; nil fields are left as they are.
type UpdateInput struct {
	Phone        *string
	Text         *string
	Recurrence   *string
	ScheduleDate *string
	ScheduleTime *string
	Owner        *string
}

// Update rewrites the task and re-registers it unless it is paused.
func (s *Tasks) Update(ctx context.Context, id string, in UpdateInput) (model.Task, error) {
	t, err := s.d.Store.GetTask(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	if in.Phone != nil {
		if t.Phone = model.NormalizePhone(*in.Phone); t.Phone == "" {
			return model.Task{}, fmt.Errorf("%w: phone is required", ErrInvalidInput)
		}
	}
	if in.Text != nil {
		t.Text = *in.Text
	}
	if in.Recurrence != nil {
		if t.Recurrence, err = recurrence.ParseKind(*in.Recurrence); err != nil {
			return model.Task{}, err
		}
	}
	if in.ScheduleDate != nil {
		t.ScheduleDate = strings.TrimSpace(*in.ScheduleDate)
	}
	if in.ScheduleTime != nil {
		t.ScheduleTime = strings.TrimSpace(*in.ScheduleTime)
	}
	if in.Owner != nil {
		t.Owner = strings.TrimSpace(*in.Owner)
	}
	if t.Immediate() {
		return model.Task{}, fmt.Errorf("%w: schedule_date or schedule_time is required", ErrInvalidInput)
	}
	if err := s.checkSchedule(&t); err != nil {
		return model.Task{}, err
	}

	if err := s.d.Store.UpdateTask(ctx, t); err != nil {
		return model.Task{}, err
	}
	if !t.Paused {
		if err := s.d.Scheduler.Reschedule(t); err != nil {
			return model.Task{}, err
		}
	}
	s.log.Info("task updated", logx.String("task_id", id), logx.String("when", t.Description))
	return t, nil
}

func (s *Tasks) Pause(ctx context.Context, id string) (model.Task, error) {
	if err := s.d.Store.SetPaused(ctx, id, true); err != nil {
		return model.Task{}, err
	}
	s.d.Scheduler.Cancel(id)
	return s.d.Store.GetTask(ctx, id)
}

func (s *Tasks) Resume(ctx context.Context, id string) (model.Task, error) {
	if err := s.d.Store.SetPaused(ctx, id, false); err != nil {
		return model.Task{}, err
	}
	t, err := s.d.Store.GetTask(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	if err := s.d.Scheduler.Schedule(t); err != nil {
		return model.Task{}, err
	}
	return t, nil
}

// RunNow fires a stored task once outside its schedule, paused or not.
func (s *Tasks) RunNow(ctx context.Context, id string) error {
	t, err := s.d.Store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	return s.d.Scheduler.RunNow(t)
}

func (s *Tasks) Receipts(ctx context.Context, limit int) ([]model.ReceiptView, error) {
	return s.d.Store.ListReceipts(ctx, limit)
}

// Receipt reads the cache first and falls back to the store.
func (s *Tasks) Receipt(ctx context.Context, messageID string) (model.Receipt, error) {
	if s.d.Cache != nil {
		if r, ok, err := s.d.Cache.Get(ctx, messageID); err == nil && ok {
			return r, nil
		} else if err != nil {
			s.log.Debug("receipt cache get failed", logx.String("message_id", messageID), logx.Err(err))
		}
	}
	return s.d.Store.GetReceipt(ctx, messageID)
}

func (s *Tasks) removeMedia(ctx context.Context, names []string) {
	for _, name := range names {
		if ref, err := s.d.Store.MediaReferenced(ctx, name); err == nil && ref {
			continue
		}
		if err := s.d.Media.Remove(name); err != nil {
			s.log.Warn("remove media failed", logx.String("file", name), logx.Err(err))
		}
	}
}
