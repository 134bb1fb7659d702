package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLockID is the advisory lock key serializing migrators. The server
// and the worker may both start with MIGRATE_ON_START.
const migrationLockID int64 = 0x706f696e7473 // "points"

// Migration is one schema step.
type Migration struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	UpSQL     string    `json:"-"`
	DownSQL   string    `json:"-"`
	AppliedAt time.Time `json:"applied_at,omitempty"`
	IsApplied bool      `json:"is_applied"`
}

// Migrator applies the embedded migrations and records them in
// schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator for the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

// withLock runs fn on one pooled connection holding the migration lock.
func (m *Migrator) withLock(ctx context.Context, fn func(c *pgxpool.Conn) error) error {
	c, err := m.conn.Pool().Acquire(ctx)
	if err != nil {
		return mapError("Migrate", err)
	}
	defer c.Release()

	if _, err := c.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("postgres: migration lock: %w", err)
	}
	defer func() {
		_, _ = c.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	if _, err := c.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("postgres: create schema_migrations: %w", err)
	}
	return fn(c)
}

func applied(ctx context.Context, c *pgxpool.Conn) (map[int]time.Time, error) {
	rows, err := c.Query(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("postgres: read schema_migrations: %w", err)
	}
	out := make(map[int]time.Time)
	var (
		version int
		at      time.Time
	)
	_, err = pgx.ForEachRow(rows, []any{&version, &at}, func() error {
		out[version] = at
		return nil
	})
	return out, err
}

// step runs one migration's SQL and its bookkeeping statement atomically.
func step(ctx context.Context, c *pgxpool.Conn, sql, bookkeeping string, version int, args ...any) error {
	return pgx.BeginFunc(ctx, c, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("migration %d: %w", version, err)
		}
		_, err := tx.Exec(ctx, bookkeeping, args...)
		return err
	})
}

// Migrate applies pending migrations in version order and reports how many ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	ran := 0
	err := m.withLock(ctx, func(c *pgxpool.Conn) error {
		done, err := applied(ctx, c)
		if err != nil {
			return err
		}
		for _, mig := range m.migrations {
			if _, ok := done[mig.Version]; ok {
				continue
			}
			if err := step(ctx, c, mig.UpSQL,
				"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)",
				mig.Version, mig.Version, mig.Name); err != nil {
				return err
			}
			ran++
		}
		return nil
	})
	return ran, err
}

// Rollback reverts the newest applied migration. With nothing applied it is a
// no-op.
func (m *Migrator) Rollback(ctx context.Context) error {
	return m.withLock(ctx, func(c *pgxpool.Conn) error {
		done, err := applied(ctx, c)
		if err != nil {
			return err
		}
		for i := len(m.migrations) - 1; i >= 0; i-- {
			mig := m.migrations[i]
			if _, ok := done[mig.Version]; !ok {
				continue
			}
			if mig.DownSQL == "" {
				return errors.New("postgres: migration " + mig.Name + " cannot be reverted")
			}
			return step(ctx, c, mig.DownSQL,
				"DELETE FROM schema_migrations WHERE version = $1",
				mig.Version, mig.Version)
		}
		return nil
	})
}

// Status lists every embedded migration with its applied time, if any.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	var out []Migration
	err := m.withLock(ctx, func(c *pgxpool.Conn) error {
		done, err := applied(ctx, c)
		if err != nil {
			return err
		}
		out = make([]Migration, len(m.migrations))
		for i, mig := range m.migrations {
			mig.AppliedAt, mig.IsApplied = done[mig.Version]
			out[i] = mig
		}
		return nil
	})
	return out, err
}
