package storage

import (
	"context"
	"errors"
	"time"

	"chronosend/internal/model"
)

var ErrNotFound = errors.New("not found")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string        // sqlite database file
	DSN         string        // postgres connection string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxOpenConn int           // postgres only; 0 means default
}

// Store is the persistence API used by the scheduler, dispatch and the HTTP layer.
type Store interface {
	CreateTask(ctx context.Context, t model.Task) error
	GetTask(ctx context.Context, id string) (model.Task, error)
	UpdateTask(ctx context.Context, t model.Task) error
	SetPaused(ctx context.Context, id string, paused bool) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context) ([]model.Task, error)
	ListActiveTasks(ctx context.Context) ([]model.Task, error)
	MediaReferenced(ctx context.Context, path string) (bool, error)

	// UpsertReceipt applies r atomically: level and timestamp are replaced only when
	// r.UpdatedAt is not older than the stored value; an empty stored task id is filled in.
	UpsertReceipt(ctx context.Context, r model.Receipt) error
	GetReceipt(ctx context.Context, messageID string) (model.Receipt, error)
	ListReceipts(ctx context.Context, limit int) ([]model.ReceiptView, error)

	Ping(ctx context.Context) error
	Close() error
}
