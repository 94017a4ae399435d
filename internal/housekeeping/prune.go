// Package housekeeping holds periodic jobs that are not tied to any task.
package housekeeping

import (
	"context"
	"time"

	logx "chronosend/pkg/logx"
)

const DefaultPruneSchedule = "0 3 * * *"

type MediaLister interface {
	List() ([]string, error)
	Remove(name string) error
}

type ReferenceChecker interface {
	MediaReferenced(ctx context.Context, path string) (bool, error)
}

type PruneReport struct {
	Scanned  int           `json:"scanned"`
	Removed  []string      `json:"removed,omitempty"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// Pruner deletes media files that no task references any more.
type Pruner struct {
	media MediaLister
	refs  ReferenceChecker
	log   logx.Logger
}

func NewPruner(media MediaLister, refs ReferenceChecker, log logx.Logger) *Pruner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pruner{media: media, refs: refs, log: log.With(logx.String("comp", "housekeeping"))}
}

// Run makes one pass. Per-file errors are logged and counted; only a failed
// listing aborts the pass.
func (p *Pruner) Run(ctx context.Context) (PruneReport, error) {
	start := time.Now()
	var rep PruneReport

	names, err := p.media.List()
	if err != nil {
		return rep, err
	}
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		rep.Scanned++
		ref, err := p.refs.MediaReferenced(ctx, name)
		if err != nil {
			rep.Errors++
			p.log.Warn("prune: reference check failed", logx.String("file", name), logx.Err(err))
			continue
		}
		if ref {
			continue
		}
		if err := p.media.Remove(name); err != nil {
			rep.Errors++
			p.log.Warn("prune: remove failed", logx.String("file", name), logx.Err(err))
			continue
		}
		rep.Removed = append(rep.Removed, name)
	}
	rep.Duration = time.Since(start)

	p.log.Info("media prune done",
		logx.Int("scanned", rep.Scanned),
		logx.Int("removed", len(rep.Removed)),
		logx.Int("errors", rep.Errors),
		logx.Duration("took", rep.Duration),
	)
	return rep, ctx.Err()
}

// Job adapts Run to the scheduler's housekeeping signature.
func (p *Pruner) Job(ctx context.Context) error {
	_, err := p.Run(ctx)
	return err
}
