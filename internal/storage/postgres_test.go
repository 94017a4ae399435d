package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronosend/internal/model"
	logx "chronosend/pkg/logx"
)

func newMockPostgres(t *testing.T) (*sqlStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newSQLStore(db, dialectPostgres, logx.Nop()), mock
}

func TestPostgresRebindsPlaceholders(t *testing.T) {
	t.Parallel()
	s := &sqlStore{dialect: dialectPostgres}
	assert.Equal(t, "UPDATE tasks SET paused = $1 WHERE id = $2", s.q("UPDATE tasks SET paused = ? WHERE id = ?"))
	lite := &sqlStore{dialect: dialectSQLite}
	assert.Equal(t, "a = ?", lite.q("a = ?"))
}

func TestPostgresUpsertReceiptIsSingleStatement(t *testing.T) {
	t.Parallel()
	s, mock := newMockPostgres(t)
	at := time.Unix(1700000000, 0)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO receipts(message_id, task_id, ack, acked, updated_at) VALUES($1,$2,$3,0,$4)`)).
		WithArgs("m1", "t1", int(model.AckSent), at.UnixNano()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO receipts(message_id, task_id, ack, acked, updated_at) VALUES($1,$2,$3,1,$4)`)).
		WithArgs("m1", "", int(model.AckRead), at.UnixNano()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	require.NoError(t, s.UpsertReceipt(ctx, model.Receipt{MessageID: "m1", TaskID: "t1", Ack: model.AckSent, UpdatedAt: at}))
	require.NoError(t, s.UpsertReceipt(ctx, model.Receipt{MessageID: "m1", Ack: model.AckRead, Acked: true, UpdatedAt: at}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteTaskMissingRollsBack(t *testing.T) {
	t.Parallel()
	s, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM task_media WHERE task_id = $1`)).WithArgs("x").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM tasks WHERE id = $1`)).WithArgs("x").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.DeleteTask(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListActiveTasksFoldsMediaRows(t *testing.T) {
	t.Parallel()
	s, mock := newMockPostgres(t)

	cols := []string{"id", "phone", "body", "recurrence", "schedule_date", "schedule_time", "description", "paused", "owner", "created_at", "path"}
	rows := sqlmock.NewRows(cols).
		AddRow("t1", "1555", "hi", "daily", "", "09:00", "daily at 09:00", false, "", int64(1), "a.png").
		AddRow("t1", "1555", "hi", "daily", "", "09:00", "daily at 09:00", false, "", int64(1), "b.png").
		AddRow("t2", "1666", "yo", "hourly", "", "30", "every hour at :30", false, "", int64(2), nil)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE t.paused = $1`)).WithArgs(false).WillReturnRows(rows)

	tasks, err := s.ListActiveTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, []string{"a.png", "b.png"}, tasks[0].MediaPaths)
	assert.Empty(t, tasks[1].MediaPaths)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRunsEveryStatement(t *testing.T) {
	t.Parallel()
	s, mock := newMockPostgres(t)
	for i := 0; i < 6; i++ {
		mock.ExpectExec(`CREATE`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, s.migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
