// Package reconcile applies asynchronous transport acks to stored receipts.
package reconcile

import (
	"context"
	"errors"
	"time"

	"chronosend/internal/cache"
	"chronosend/internal/eventbus"
	"chronosend/internal/model"
	"chronosend/internal/transport"
	logx "chronosend/pkg/logx"
)

type ReceiptWriter interface {
	UpsertReceipt(ctx context.Context, r model.Receipt) error
}

// Reconciler writes acks through to the store. Acks may arrive before dispatch has
// written its receipt or after the task is gone; both are fine.
type Reconciler struct {
	store ReceiptWriter
	cache cache.ReceiptCache
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

// New wires the reconciler. The bus only receives applied acks for observers.
func New(store ReceiptWriter, rc cache.ReceiptCache, bus eventbus.Bus, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{store: store, cache: rc, bus: bus, log: log.With(logx.String("comp", "reconcile")), now: time.Now}
}

// Apply persists one ack before returning. A zero At is stamped with the local clock.
// A store error is returned so the sender can retry; cache errors are only logged.
func (r *Reconciler) Apply(ctx context.Context, ev transport.AckEvent) error {
	if ev.MessageID == "" {
		return errors.New("reconcile: empty message id")
	}
	if ev.At.IsZero() {
		ev.At = r.now()
	}
	rec := model.Receipt{MessageID: ev.MessageID, Ack: ev.Level, Acked: true, UpdatedAt: ev.At}
	if err := r.store.UpsertReceipt(ctx, rec); err != nil {
		r.log.Warn("apply ack failed",
			logx.String("message_id", ev.MessageID),
			logx.String("level", ev.Level.String()),
			logx.Err(err),
		)
		return err
	}
	if r.cache != nil {
		if err := r.cache.Put(ctx, rec); err != nil {
			r.log.Debug("receipt cache put failed", logx.String("message_id", rec.MessageID), logx.Err(err))
		}
	}
	transport.PublishAck(r.bus, ev)
	return nil
}
