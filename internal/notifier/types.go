package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled        bool
	Workers        int
	QueueSize      int
	RatePerSec     int
	RetryMax       int
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
	DefaultAddress string
}

// Message is one notification. Subject is used by sinks that have one.
type Message struct {
	Address string
	Subject string
	Body    string
}

// Sink delivers a message to one kind of address.
type Sink interface {
	Name() string
	Send(ctx context.Context, address string, msg Message) error
}

// Notifier is what dispatch depends on.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

type HistoryItem struct {
	At      time.Time `json:"at"`
	Sink    string    `json:"sink"`
	Address string    `json:"address"`
	Subject string    `json:"subject"`
}

// NotificationEvent is published on the bus for sent/failed deliveries.
type NotificationEvent struct {
	Sink    string    `json:"sink"`
	Address string    `json:"address"`
	Subject string    `json:"subject"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
