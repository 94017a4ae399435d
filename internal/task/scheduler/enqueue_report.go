package scheduler

import (
	"errors"
	"time"

	"chronosend/internal/task/engine"
	logx "chronosend/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// A recurring firing still running when the next tick arrives is skipped.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Info("trigger skipped: previous firing still running", logx.String("job", name))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("trigger failed to enqueue firing", logx.String("job", name), logx.Err(err))
}
