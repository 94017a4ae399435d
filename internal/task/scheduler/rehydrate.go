package scheduler

import (
	"context"
	"fmt"

	logx "chronosend/pkg/logx"
)

// Rehydrate registers a job for every non-paused persisted task. A store failure is
// returned as an error; a task whose schedule does not resolve is logged and skipped.
func (s *Service) Rehydrate(ctx context.Context, src TaskSource) (RehydrateReport, error) {
	tasks, err := src.ListActiveTasks(ctx)
	if err != nil {
		return RehydrateReport{}, fmt.Errorf("rehydrate: %w", err)
	}

	rep := RehydrateReport{Loaded: len(tasks)}
	for _, t := range tasks {
		if t.Paused {
			continue
		}
		if err := s.Schedule(t); err != nil {
			s.log.Warn("rehydrate: task skipped", logx.String("task", t.ID), logx.String("recurrence", string(t.Recurrence)), logx.Err(err))
			rep.Skipped = append(rep.Skipped, SkippedTask{TaskID: t.ID, Error: err.Error()})
			continue
		}
		rep.Scheduled++
	}
	s.log.Info("rehydrated", logx.Int("loaded", rep.Loaded), logx.Int("scheduled", rep.Scheduled), logx.Int("skipped", len(rep.Skipped)))
	return rep, nil
}
