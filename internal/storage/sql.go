package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chronosend/internal/model"
	"chronosend/internal/recurrence"
	logx "chronosend/pkg/logx"
)

//go:embed migrations/schema.sql
var migrationsFS embed.FS

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

type sqlStore struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
}

func newSQLStore(db *sql.DB, d dialect, log logx.Logger) *sqlStore {
	return &sqlStore{db: db, dialect: d, log: log}
}

// q rewrites "?" placeholders to "$n" for postgres.
func (s *sqlStore) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/schema.sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) CreateTask(ctx context.Context, t model.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO tasks(id, phone, body, recurrence, schedule_date, schedule_time, description, paused, owner, created_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?)`),
			t.ID, t.Phone, t.Text, string(t.Recurrence), t.ScheduleDate, t.ScheduleTime, t.Description, t.Paused, t.Owner, t.CreatedAt.UnixNano(),
		)
		if err != nil {
			return err
		}
		return s.insertMedia(ctx, tx, t.ID, t.MediaPaths)
	})
}

func (s *sqlStore) UpdateTask(ctx context.Context, t model.Task) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(
			`UPDATE tasks SET phone = ?, body = ?, recurrence = ?, schedule_date = ?, schedule_time = ?, description = ?, paused = ?, owner = ?
			 WHERE id = ?`),
			t.Phone, t.Text, string(t.Recurrence), t.ScheduleDate, t.ScheduleTime, t.Description, t.Paused, t.Owner, t.ID,
		)
		if err != nil {
			return err
		}
		if err := mustAffect(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM task_media WHERE task_id = ?`), t.ID); err != nil {
			return err
		}
		return s.insertMedia(ctx, tx, t.ID, t.MediaPaths)
	})
}

func (s *sqlStore) SetPaused(ctx context.Context, id string, paused bool) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE tasks SET paused = ? WHERE id = ?`), paused, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqlStore) DeleteTask(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM task_media WHERE task_id = ?`), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM tasks WHERE id = ?`), id)
		if err != nil {
			return err
		}
		return mustAffect(res)
	})
}

const taskSelect = `SELECT t.id, t.phone, t.body, t.recurrence, t.schedule_date, t.schedule_time, t.description, t.paused, t.owner, t.created_at, m.path
	FROM tasks t LEFT JOIN task_media m ON m.task_id = t.id`

func (s *sqlStore) GetTask(ctx context.Context, id string) (model.Task, error) {
	out, err := s.queryTasks(ctx, taskSelect+` WHERE t.id = ? ORDER BY m.position`, id)
	if err != nil {
		return model.Task{}, err
	}
	if len(out) == 0 {
		return model.Task{}, ErrNotFound
	}
	return out[0], nil
}

func (s *sqlStore) ListTasks(ctx context.Context) ([]model.Task, error) {
	return s.queryTasks(ctx, taskSelect+` ORDER BY t.created_at, t.id, m.position`)
}

func (s *sqlStore) ListActiveTasks(ctx context.Context) ([]model.Task, error) {
	return s.queryTasks(ctx, taskSelect+` WHERE t.paused = ? ORDER BY t.created_at, t.id, m.position`, false)
}

func (s *sqlStore) MediaReferenced(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM task_media WHERE path = ? LIMIT 1`), path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqlStore) UpsertReceipt(ctx context.Context, r model.Receipt) error {
	if strings.TrimSpace(r.MessageID) == "" {
		return errors.New("receipt message id required")
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	if !r.Acked {
		// Send-side write: never overrides an ack that raced ahead of it.
		_, err := s.db.ExecContext(ctx, s.q(
			`INSERT INTO receipts(message_id, task_id, ack, acked, updated_at) VALUES(?,?,?,0,?)
			 ON CONFLICT(message_id) DO UPDATE SET
			   task_id = CASE WHEN receipts.task_id = '' THEN excluded.task_id ELSE receipts.task_id END`),
			r.MessageID, r.TaskID, int(r.Ack), r.UpdatedAt.UnixNano(),
		)
		return err
	}
	// Ack write: replaces a send-side row outright; between acks the newer gateway time wins.
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO receipts(message_id, task_id, ack, acked, updated_at) VALUES(?,?,?,1,?)
		 ON CONFLICT(message_id) DO UPDATE SET
		   task_id = CASE WHEN receipts.task_id = '' THEN excluded.task_id ELSE receipts.task_id END,
		   ack = CASE WHEN receipts.acked = 0 OR excluded.updated_at >= receipts.updated_at THEN excluded.ack ELSE receipts.ack END,
		   updated_at = CASE WHEN receipts.acked = 0 OR excluded.updated_at >= receipts.updated_at THEN excluded.updated_at ELSE receipts.updated_at END,
		   acked = 1`),
		r.MessageID, r.TaskID, int(r.Ack), r.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *sqlStore) GetReceipt(ctx context.Context, messageID string) (model.Receipt, error) {
	var (
		r     model.Receipt
		ack   int
		acked int
		at    int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT message_id, task_id, ack, acked, updated_at FROM receipts WHERE message_id = ?`), messageID).
		Scan(&r.MessageID, &r.TaskID, &ack, &acked, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Receipt{}, ErrNotFound
	}
	if err != nil {
		return model.Receipt{}, err
	}
	r.Ack = model.AckLevel(ack)
	r.Acked = acked != 0
	r.UpdatedAt = time.Unix(0, at)
	return r, nil
}

func (s *sqlStore) ListReceipts(ctx context.Context, limit int) ([]model.ReceiptView, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT r.message_id, r.task_id, r.ack, r.acked, r.updated_at, COALESCE(t.phone, ''), COALESCE(t.body, ''), COALESCE(t.recurrence, '')
		 FROM receipts r LEFT JOIN tasks t ON t.id = r.task_id
		 ORDER BY r.updated_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ReceiptView
	for rows.Next() {
		var (
			v     model.ReceiptView
			ack   int
			acked int
			at    int64
			rec   string
		)
		if err := rows.Scan(&v.MessageID, &v.TaskID, &ack, &acked, &at, &v.Phone, &v.Text, &rec); err != nil {
			return nil, err
		}
		v.Ack = model.AckLevel(ack)
		v.Acked = acked != 0
		v.UpdatedAt = time.Unix(0, at)
		v.Recurrence = recurrence.Kind(rec)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *sqlStore) queryTasks(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Task
	idx := map[string]int{}
	for rows.Next() {
		var (
			t       model.Task
			rec     string
			created int64
			media   sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Phone, &t.Text, &rec, &t.ScheduleDate, &t.ScheduleTime, &t.Description, &t.Paused, &t.Owner, &created, &media); err != nil {
			return nil, err
		}
		i, seen := idx[t.ID]
		if !seen {
			t.Recurrence = recurrence.Kind(rec)
			t.CreatedAt = time.Unix(0, created)
			out = append(out, t)
			i = len(out) - 1
			idx[t.ID] = i
		}
		if media.Valid {
			out[i].MediaPaths = append(out[i].MediaPaths, media.String)
		}
	}
	return out, rows.Err()
}

func (s *sqlStore) insertMedia(ctx context.Context, tx *sql.Tx, taskID string, paths []string) error {
	for i, p := range paths {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO task_media(task_id, position, path) VALUES(?,?,?)`), taskID, i, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
