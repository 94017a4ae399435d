package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chronosend/internal/eventbus"
	"chronosend/internal/model"
	"chronosend/internal/recurrence"
	"chronosend/internal/task/engine"
	logx "chronosend/pkg/logx"
)

const defaultOneShotRetry = 5 * time.Second

type Config struct {
	Timezone      string // IANA TZ, e.g. "Europe/Berlin"; empty means server local
	FiringTimeout time.Duration
	Overlap       engine.OverlapPolicy
}

// FireFunc performs one firing of a task.
type FireFunc func(ctx context.Context, t model.Task) error

// Executor runs firings. *engine.Service satisfies it.
type Executor interface {
	Enqueue(t engine.Task) error
}

// TaskSource supplies the persisted non-paused task set for rehydration.
type TaskSource interface {
	ListActiveTasks(ctx context.Context) ([]model.Task, error)
}

// job is the in-memory handle for one task. A callback holding a job that is no
// longer in the map is stale and does nothing.
type job struct {
	task    model.Task
	trigger recurrence.Trigger
	entryID cron.EntryID
	timer   *time.Timer
	state   *engine.RunState
}

type chore struct {
	name    string
	spec    string
	run     func(ctx context.Context) error
	entryID cron.EntryID
	state   *engine.RunState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus
	exe Executor

	parser  cron.Parser
	c       *cron.Cron
	running bool

	jobs   map[string]*job
	chores map[string]*chore
	fire   FireFunc

	// retryDelay re-arms a one-shot whose firing the engine refused.
	retryDelay time.Duration

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// JobInfo describes one registered job.
type JobInfo struct {
	TaskID      string          `json:"task_id,omitempty"`
	Name        string          `json:"name,omitempty"`
	Kind        recurrence.Kind `json:"kind,omitempty"`
	Spec        string          `json:"spec,omitempty"`
	At          time.Time       `json:"at,omitempty"`
	Description string          `json:"description,omitempty"`
	Next        time.Time       `json:"next,omitempty"`
	Prev        time.Time       `json:"prev,omitempty"`
	Running     bool            `json:"running"`
}

type Snapshot struct {
	Running  bool      `json:"running"`
	Timezone string    `json:"timezone"`
	Overlap  string    `json:"overlap"`
	Jobs     []JobInfo `json:"jobs"`
	Chores   []JobInfo `json:"chores"`
}

// SkippedTask is a task whose schedule failed to resolve during rehydration.
type SkippedTask struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

type RehydrateReport struct {
	Loaded    int           `json:"loaded"`
	Scheduled int           `json:"scheduled"`
	Skipped   []SkippedTask `json:"skipped,omitempty"`
}
