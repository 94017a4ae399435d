package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"chronosend/internal/eventbus"
	logx "chronosend/pkg/logx"
)

func New(cfg Config, exe Executor, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		exe: exe,
		// SecondOptional allows both 5-field and 6-field cron specs for housekeeping.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:        map[string]*job{},
		chores:      map[string]*chore{},
		lastEnqWarn: map[string]time.Time{},
		retryDelay:  defaultOneShotRetry,
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	return s
}

// SetFireFunc wires the dispatch step. It must be set before the first trigger.
func (s *Service) SetFireFunc(fn FireFunc) {
	s.mu.Lock()
	s.fire = fn
	s.mu.Unlock()
}

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Apply updates runtime settings. A timezone change rebuilds every job in the new location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	s.restartLocked()
}

// Start starts cron triggering and arms one-shot timers registered before Start.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.c.Start()
	for id, j := range s.jobs {
		if j.trigger.OneShot() && j.timer == nil {
			s.armLocked(id, j)
		}
	}
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)), logx.Int("chores", len(s.chores)))
}

// Stop stops triggering. Registered jobs stay in the map and resume on the next Start.
// Firings already handed to the engine are not interrupted.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.c
	for _, j := range s.jobs {
		if j.timer != nil {
			j.timer.Stop()
			j.timer = nil
		}
	}
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) restartLocked() {
	wasRunning := s.running
	if wasRunning {
		// Not waiting for Done: in-flight callbacks need s.mu and see their job as stale.
		s.c.Stop()
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))

	for _, ch := range s.chores {
		if err := s.addChoreLocked(ch); err != nil {
			s.log.Error("housekeeping re-register failed", logx.String("name", ch.name), logx.Err(err))
		}
	}
	old := s.jobs
	s.jobs = make(map[string]*job, len(old))
	for id, j := range old {
		if j.timer != nil {
			j.timer.Stop()
		}
		if err := s.scheduleLocked(j.task); err != nil {
			s.log.Error("job re-register failed", logx.String("task", id), logx.Err(err))
		}
	}
	if wasRunning {
		s.c.Start()
	}
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
