package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// schema is idempotent; it runs on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id          BIGSERIAL PRIMARY KEY,
		student_id  VARCHAR(50)  NOT NULL UNIQUE,
		name        VARCHAR(100) NOT NULL,
		email       VARCHAR(100),
		image_hash  CHAR(16)     NOT NULL,
		photo_url   TEXT,
		created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id          BIGSERIAL PRIMARY KEY,
		student_id  VARCHAR(50)  NOT NULL REFERENCES students(student_id) ON DELETE CASCADE,
		marked_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		attended_on DATE         NOT NULL DEFAULT CURRENT_DATE,
		status      VARCHAR(20)  NOT NULL DEFAULT 'Present',
		class_name  VARCHAR(100) NOT NULL DEFAULT 'Default Class',
		CONSTRAINT attendance_once_per_day UNIQUE (student_id, attended_on, class_name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_day ON attendance (attended_on)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_marked_at ON attendance (marked_at DESC)`,
}

// Migrate creates the tables the service needs inside one transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrate: %w", err)
	}
	return nil
}

// Migrator applies the schema and remembers whether it has succeeded, so a
// service started while Postgres was down can catch up once it returns.
type Migrator struct {
	db   *sql.DB
	log  *zap.Logger
	done atomic.Bool
}

// NewMigrator creates a migrator for db.
func NewMigrator(db *sql.DB, log *zap.Logger) *Migrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Migrator{db: db, log: log}
}

// Ready reports whether the schema has been applied.
func (m *Migrator) Ready() bool { return m.done.Load() }

// Run applies the schema once.
func (m *Migrator) Run(ctx context.Context) error {
	if m.Ready() {
		return nil
	}
	if err := Migrate(ctx, m.db); err != nil {
		return err
	}
	m.done.Store(true)
	return nil
}

// RunUntilDone retries Run, doubling the wait from interval up to a minute,
// until it succeeds or ctx ends.
func (m *Migrator) RunUntilDone(ctx context.Context, interval time.Duration) {
	wait := interval
	for {
		err := m.Run(ctx)
		if err == nil {
			m.log.Info("schema migrated")
			return
		}
		m.log.Warn("schema migration failed, retrying", zap.Duration("in", wait), zap.Error(err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		wait = min(2*wait, time.Minute)
	}
}
