// Package transport defines the messaging transport contract used by dispatch and
// the ack event that flows back through the bus.
package transport

import (
	"context"
	"errors"
	"strings"
	"time"

	"chronosend/internal/eventbus"
	"chronosend/internal/model"
)

var (
	ErrSendFailure = errors.New("transport send failed")
	ErrNotReady    = errors.New("transport not ready")
)

const DefaultSuffix = "c.us"

// SendResult is what the transport reports for one accepted message.
type SendResult struct {
	MessageID string
	Ack       model.AckLevel
}

type MediaPayload struct {
	Name     string
	MimeType string
	Data     []byte
}

// AckEvent is an asynchronous acknowledgment update. Once stored it is published on
// the bus with type eventbus.TypeAck.
type AckEvent struct {
	MessageID string         `json:"message_id"`
	Level     model.AckLevel `json:"level"`
	At        time.Time      `json:"at"`
}

type Transport interface {
	SendText(ctx context.Context, to, text string) (SendResult, error)
	SendMedia(ctx context.Context, to string, media MediaPayload, caption string) (SendResult, error)
	Ready() bool
}

// Recipient builds the transport address from stored digits, e.g. "15551234567@c.us".
func Recipient(phone, suffix string) string {
	suffix = strings.TrimPrefix(strings.TrimSpace(suffix), "@")
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return model.NormalizePhone(phone) + "@" + suffix
}

// PublishAck puts an ack event on the bus. A zero At means now.
func PublishAck(bus eventbus.Bus, ev AckEvent) {
	if bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	bus.Publish(eventbus.Event{Type: eventbus.TypeAck, Time: ev.At, Data: ev})
}
