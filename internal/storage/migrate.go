package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema step, identified by its file prefix.
type Migration struct {
	ID      string
	UpSQL   string
	DownSQL string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	ID        string
	AppliedAt time.Time
}

// Migrator applies the embedded migrations to a postgres or sqlite database.
type Migrator struct {
	db         *sql.DB
	dialect    dialect
	migrations []Migration
}

// NewMigrator creates a migrator backed by the given db.
func NewMigrator(db *sql.DB, d dialect) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, dialect: d, migrations: migrations}, nil
}

const schemaMigrationsDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	id TEXT PRIMARY KEY,
	applied_at BIGINT NOT NULL
)`

// EnsureSchema creates the bookkeeping table when missing.
func (m *Migrator) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// migrationStep is one direction of a migration plus its bookkeeping write.
type migrationStep struct {
	verb   string
	id     string
	body   string
	record string
	args   []any
}

// Up applies pending migrations in id order. steps <= 0 applies all of them.
func (m *Migrator) Up(ctx context.Context, steps int) ([]string, error) {
	_, pending, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	pending = limit(pending, steps)

	plan := make([]migrationStep, 0, len(pending))
	for _, mig := range pending {
		plan = append(plan, migrationStep{
			verb:   "apply",
			id:     mig.ID,
			body:   mig.UpSQL,
			record: `INSERT INTO schema_migrations (id, applied_at) VALUES ($1, $2)`,
			args:   []any{mig.ID, time.Now().UnixMilli()},
		})
	}
	return m.run(ctx, plan)
}

// Down rolls back the most recently applied migrations, newest first.
// steps <= 0 rolls back one.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	if steps <= 0 {
		steps = 1
	}
	applied, _, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}

	plan := []migrationStep{}
	for i := len(applied) - 1; i >= 0 && len(plan) < steps; i-- {
		id := applied[i].ID
		idx := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.ID == id })
		if idx < 0 {
			return nil, fmt.Errorf("applied migration %s is not embedded", id)
		}
		plan = append(plan, migrationStep{
			verb:   "rollback",
			id:     id,
			body:   m.migrations[idx].DownSQL,
			record: `DELETE FROM schema_migrations WHERE id = $1`,
			args:   []any{id},
		})
	}
	return m.run(ctx, plan)
}

// Status reports applied migrations in id order and the embedded ones not
// yet applied.
func (m *Migrator) Status(ctx context.Context) ([]AppliedMigration, []Migration, error) {
	if err := m.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, nil, err
	}
	done := make(map[string]struct{}, len(applied))
	for _, a := range applied {
		done[a.ID] = struct{}{}
	}
	pending := []Migration{}
	for _, mig := range m.migrations {
		if _, ok := done[mig.ID]; !ok {
			pending = append(pending, mig)
		}
	}
	return applied, pending, nil
}

// run executes each step in its own transaction and stops at the first
// failure, returning the ids completed so far.
func (m *Migrator) run(ctx context.Context, plan []migrationStep) ([]string, error) {
	completed := []string{}
	for _, step := range plan {
		if strings.TrimSpace(step.body) == "" {
			return completed, fmt.Errorf("%s %s: empty migration body", step.verb, step.id)
		}
		if err := m.exec(ctx, step); err != nil {
			return completed, err
		}
		completed = append(completed, step.id)
	}
	return completed, nil
}

func (m *Migrator) exec(ctx context.Context, step migrationStep) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s %s: begin: %w", step.verb, step.id, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, step.body); err != nil {
		return fmt.Errorf("%s %s: %w", step.verb, step.id, err)
	}
	if _, err = tx.ExecContext(ctx, m.dialect.rebind(step.record), step.args...); err != nil {
		return fmt.Errorf("%s %s: record: %w", step.verb, step.id, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s %s: commit: %w", step.verb, step.id, err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, applied_at FROM schema_migrations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	out := []AppliedMigration{}
	for rows.Next() {
		var (
			id     string
			millis int64
		)
		if err := rows.Scan(&id, &millis); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		out = append(out, AppliedMigration{ID: id, AppliedAt: time.UnixMilli(millis)})
	}
	return out, rows.Err()
}

func limit(pending []Migration, steps int) []Migration {
	if steps > 0 && steps < len(pending) {
		return pending[:steps]
	}
	return pending
}

// loadMigrations pairs NNNN_name.up.sql and NNNN_name.down.sql files by
// their shared prefix.
func loadMigrations() ([]Migration, error) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byID := map[string]*Migration{}
	for _, file := range files {
		name := path.Base(file)
		id, direction, ok := splitMigrationName(name)
		if !ok {
			continue
		}
		body, err := migrationsFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		mig, exists := byID[id]
		if !exists {
			mig = &Migration{ID: id}
			byID[id] = mig
		}
		if direction == "up" {
			mig.UpSQL = string(body)
		} else {
			mig.DownSQL = string(body)
		}
	}

	out := make([]Migration, 0, len(byID))
	for _, mig := range byID {
		out = append(out, *mig)
	}
	slices.SortFunc(out, func(a, b Migration) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func splitMigrationName(name string) (id, direction string, ok bool) {
	trimmed, found := strings.CutSuffix(name, ".sql")
	if !found {
		return "", "", false
	}
	for _, dir := range []string{"up", "down"} {
		if id, found := strings.CutSuffix(trimmed, "."+dir); found {
			return id, dir, true
		}
	}
	return "", "", false
}
