package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/parley/internal/config"
)

const connectTimeout = 10 * time.Second

// Open creates the stores selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (StoreSet, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStores(), nil
	case "postgres":
		return openSQL(ctx, "postgres", dialectPostgres, cfg)
	case "sqlite":
		return openSQL(ctx, "sqlite", dialectSQLite, cfg)
	default:
		return StoreSet{}, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openSQL(ctx context.Context, driverName string, d dialect, cfg config.DatabaseConfig) (StoreSet, error) {
	dsn := strings.TrimSpace(cfg.URL)
	if dsn == "" {
		return StoreSet{}, fmt.Errorf("dsn is required")
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}

	maxConns := cfg.MaxConnections
	if d == dialectSQLite {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		maxConns = 1
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping database: %w", err)
	}

	return newSQLStores(db, d), nil
}

func newSQLStores(db *sql.DB, d dialect) StoreSet {
	return StoreSet{
		Chats:    &sqlChatStore{db: db, dialect: d},
		Messages: &sqlMessageStore{db: db, dialect: d},
		Users:    &sqlUserStore{db: db, dialect: d},
		db:       db,
		dialect:  d,
		closer:   db.Close,
	}
}

// Migrator returns a schema migrator for SQL-backed stores.
func (s StoreSet) Migrator() (*Migrator, error) {
	if s.db == nil {
		return nil, fmt.Errorf("migrations require a sql database driver")
	}
	return NewMigrator(s.db, s.dialect)
}

// Persistent reports whether the stores are backed by a database.
func (s StoreSet) Persistent() bool {
	return s.db != nil
}

// Ping checks the database connection. It is a no-op for memory stores.
func (s StoreSet) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}
