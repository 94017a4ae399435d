// Package storage is the task store: tasks, their ordered media references and
// delivery receipts, on database/sql.
//
// Two drivers share one implementation:
//   - "sqlite": modernc.org/sqlite database file (default)
//   - "postgres": jackc/pgx stdlib driver
package storage
