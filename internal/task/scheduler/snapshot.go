package scheduler

import (
	"sort"

	"chronosend/internal/recurrence"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{
		Running:  s.running,
		Timezone: s.loc.String(),
		Overlap:  s.cfg.Overlap.String(),
		Jobs:     make([]JobInfo, 0, len(s.jobs)),
		Chores:   make([]JobInfo, 0, len(s.chores)),
	}
	for id, j := range s.jobs {
		it := JobInfo{
			TaskID:      id,
			Kind:        j.task.Recurrence,
			Description: recurrence.Describe(j.task.Recurrence, j.task.ScheduleDate, j.task.ScheduleTime),
			Running:     j.state.Running(),
		}
		if j.trigger.OneShot() {
			it.At = j.trigger.At
			it.Next = j.trigger.At
		} else {
			it.Spec = j.trigger.CronSpec()
			e := s.c.Entry(j.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out.Jobs = append(out.Jobs, it)
	}
	for _, ch := range s.chores {
		e := s.c.Entry(ch.entryID)
		out.Chores = append(out.Chores, JobInfo{Name: ch.name, Spec: ch.spec, Next: e.Next, Prev: e.Prev, Running: ch.state.Running()})
	}
	sort.Slice(out.Jobs, func(i, k int) bool { return out.Jobs[i].TaskID < out.Jobs[k].TaskID })
	sort.Slice(out.Chores, func(i, k int) bool { return out.Chores[i].Name < out.Chores[k].Name })
	return out
}
