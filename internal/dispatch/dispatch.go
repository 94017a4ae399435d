// Package dispatch performs one firing of a task: send, record receipts, notify
// the owner and retire one-shot tasks.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chronosend/internal/cache"
	"chronosend/internal/media"
	"chronosend/internal/model"
	"chronosend/internal/notifier"
	"chronosend/internal/storage"
	"chronosend/internal/transport"
	logx "chronosend/pkg/logx"
)

// Store is the part of the task store a firing touches.
type Store interface {
	UpsertReceipt(ctx context.Context, r model.Receipt) error
	DeleteTask(ctx context.Context, id string) error
	MediaReferenced(ctx context.Context, path string) (bool, error)
}

type MediaSource interface {
	Read(name string) (media.File, error)
	Remove(name string) error
}

// JobCanceler drops the scheduler handle of a retired task.
type JobCanceler interface {
	Cancel(taskID string) bool
}

type Config struct {
	RecipientSuffix string
	// CleanupTimeout bounds one-shot cleanup, which runs even when the firing ctx is done.
	CleanupTimeout time.Duration
}

type Deps struct {
	Transport transport.Transport
	Store     Store
	Media     MediaSource
	Notifier  notifier.Notifier
	Cache     cache.ReceiptCache // optional
	Jobs      JobCanceler        // optional
}

type Dispatcher struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time
}

func New(cfg Config, deps Deps, log logx.Logger) (*Dispatcher, error) {
	if deps.Transport == nil || deps.Store == nil {
		return nil, errors.New("dispatch: transport and store are required")
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "dispatch")), now: time.Now}, nil
}

// Fire sends the task once. The returned error is the firing outcome; the owner
// has already been notified of it.
func (d *Dispatcher) Fire(ctx context.Context, t model.Task) error {
	to := transport.Recipient(t.Phone, d.cfg.RecipientSuffix)
	log := d.log.With(logx.String("task_id", t.ID), logx.String("to", to))

	sent, err := d.send(ctx, t, to)
	if err != nil {
		log.Warn("firing failed", logx.Int("sent", sent), logx.Err(err))
		d.notify(ctx, t, failureMessage(t, to, err))
	} else {
		log.Info("firing sent", logx.Int("messages", sent))
		d.notify(ctx, t, successMessage(t, to, sent))
	}

	if t.OneShot() {
		d.retire(ctx, t, log)
	}
	return err
}

// send delivers media items in stored order, captioning only the first, or the
// text alone. The first failure aborts the rest.
func (d *Dispatcher) send(ctx context.Context, t model.Task, to string) (int, error) {
	if len(t.MediaPaths) == 0 {
		res, err := d.deps.Transport.SendText(ctx, to, t.Text)
		if err != nil {
			return 0, err
		}
		if err := d.record(ctx, t, res); err != nil {
			return 1, err
		}
		return 1, nil
	}

	if d.deps.Media == nil {
		return 0, errors.New("dispatch: media store not configured")
	}
	for i, name := range t.MediaPaths {
		f, err := d.deps.Media.Read(name)
		if err != nil {
			return i, fmt.Errorf("read media %q: %w", name, err)
		}
		caption := ""
		if i == 0 {
			caption = t.Text
		}
		res, err := d.deps.Transport.SendMedia(ctx, to, transport.MediaPayload{Name: f.Name, MimeType: f.MimeType, Data: f.Data}, caption)
		if err != nil {
			return i, err
		}
		if err := d.record(ctx, t, res); err != nil {
			return i + 1, err
		}
	}
	return len(t.MediaPaths), nil
}

// record writes the send-side receipt. An ack applied before the send call returned
// keeps its level; this write only links the task.
func (d *Dispatcher) record(ctx context.Context, t model.Task, res transport.SendResult) error {
	r := model.Receipt{MessageID: res.MessageID, TaskID: t.ID, Ack: res.Ack, UpdatedAt: d.now()}
	if err := d.deps.Store.UpsertReceipt(ctx, r); err != nil {
		return fmt.Errorf("write receipt %s: %w", res.MessageID, err)
	}
	if d.deps.Cache != nil {
		if err := d.deps.Cache.Put(ctx, r); err != nil {
			d.log.Debug("receipt cache put failed", logx.String("message_id", r.MessageID), logx.Err(err))
		}
	}
	return nil
}

func (d *Dispatcher) notify(ctx context.Context, t model.Task, msg notifier.Message) {
	if d.deps.Notifier == nil {
		return
	}
	msg.Address = t.Owner
	if err := d.deps.Notifier.Notify(context.WithoutCancel(ctx), msg); err != nil && !errors.Is(err, notifier.ErrDisabled) {
		d.log.Warn("notify failed", logx.String("task_id", t.ID), logx.Err(err))
	}
}

// retire deletes a one-shot task, its media files and its job handle.
func (d *Dispatcher) retire(ctx context.Context, t model.Task, log logx.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.CleanupTimeout)
	defer cancel()

	if err := d.deps.Store.DeleteTask(cctx, t.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error("delete one-shot task failed", logx.Err(err))
	}
	if d.deps.Jobs != nil {
		d.deps.Jobs.Cancel(t.ID)
	}
	if d.deps.Media == nil {
		return
	}
	for _, name := range t.MediaPaths {
		if ref, err := d.deps.Store.MediaReferenced(cctx, name); err == nil && ref {
			continue
		}
		if err := d.deps.Media.Remove(name); err != nil {
			log.Warn("remove media failed", logx.String("file", name), logx.Err(err))
		}
	}
}

func successMessage(t model.Task, to string, n int) notifier.Message {
	return notifier.Message{
		Subject: "Message sent",
		Body:    fmt.Sprintf("%s to %s: %d message(s) sent.", label(t), to, n),
	}
}

func failureMessage(t model.Task, to string, err error) notifier.Message {
	return notifier.Message{
		Subject: "Message failed",
		Body:    fmt.Sprintf("%s to %s failed: %v", label(t), to, err),
	}
}

func label(t model.Task) string {
	if t.Description != "" {
		return fmt.Sprintf("Task %s (%s)", t.ID, t.Description)
	}
	return "Task " + t.ID
}
