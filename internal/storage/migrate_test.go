package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/pkg/models"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migrations) == 0 {
		t.Fatalf("no migrations embedded")
	}
	for _, m := range migrations {
		if m.UpSQL == "" || m.DownSQL == "" {
			t.Fatalf("migration %s missing up or down sql", m.ID)
		}
	}
}

func openSQLite(t *testing.T) StoreSet {
	t.Helper()
	stores, err := Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "parley.db"),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = stores.Close() })
	return stores
}

func TestMigratorUpDownStatus(t *testing.T) {
	ctx := context.Background()
	stores := openSQLite(t)
	migrator, err := stores.Migrator()
	if err != nil {
		t.Fatalf("Migrator() error = %v", err)
	}

	applied, err := migrator.Up(ctx, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if len(applied) == 0 {
		t.Fatalf("Up() applied nothing")
	}
	again, err := migrator.Up(ctx, 0)
	if err != nil || len(again) != 0 {
		t.Fatalf("Up(repeat) = %v, %v", again, err)
	}

	done, pending, err := migrator.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(done) != len(applied) || len(pending) != 0 {
		t.Fatalf("Status() = %d applied, %d pending", len(done), len(pending))
	}

	rolled, err := migrator.Down(ctx, 1)
	if err != nil || len(rolled) != 1 {
		t.Fatalf("Down() = %v, %v", rolled, err)
	}
	_, pending, _ = migrator.Status(ctx)
	if len(pending) != 1 {
		t.Fatalf("pending after Down() = %d, want 1", len(pending))
	}
}

func TestSQLiteStoresRoundTrip(t *testing.T) {
	ctx := context.Background()
	stores := openSQLite(t)
	migrator, _ := stores.Migrator()
	if _, err := migrator.Up(ctx, 0); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	chat := newChat("alice", "bob")
	if err := stores.Chats.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if err := stores.Chats.CreateChat(ctx, chat); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("CreateChat(dup) error = %v", err)
	}
	found, err := stores.Chats.FindChatBetween(ctx, "bob", "alice")
	if err != nil || found.ID != chat.ID {
		t.Fatalf("FindChatBetween() = %v, %v", found, err)
	}

	if err := stores.Chats.SetBlocked(ctx, chat.ID, true, "bob"); err != nil {
		t.Fatalf("SetBlocked() error = %v", err)
	}
	if err := stores.Chats.AddDeletedBy(ctx, chat.ID, "alice"); err != nil {
		t.Fatalf("AddDeletedBy() error = %v", err)
	}
	if err := stores.Chats.AddDeletedBy(ctx, chat.ID, "alice"); err != nil {
		t.Fatalf("AddDeletedBy(repeat) error = %v", err)
	}
	if err := stores.Chats.AddDeletedBy(ctx, "missing", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddDeletedBy(missing) error = %v", err)
	}
	got, err := stores.Chats.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetChat() error = %v", err)
	}
	if !got.IsBlocked || got.BlockedBy != "bob" || len(got.DeletedBy) != 1 {
		t.Fatalf("GetChat() = %+v", got)
	}

	now := time.UnixMilli(time.Now().UnixMilli())
	msg := newMessage(chat.ID, "alice", models.StatusSent, now)
	if err := stores.Messages.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if n, err := stores.Messages.MarkUnread(ctx, chat.ID, "alice"); err != nil || n != 1 {
		t.Fatalf("MarkUnread() = %d, %v", n, err)
	}
	summary, err := stores.Messages.Summarize(ctx, chat.ID, "bob")
	if err != nil || summary.UnreadCount != 1 || !summary.LastMessageAt.Equal(now) {
		t.Fatalf("Summarize() = %+v, %v", summary, err)
	}
	if err := stores.Messages.MarkDeleted(ctx, msg.ID); err != nil {
		t.Fatalf("MarkDeleted() error = %v", err)
	}
	stored, _ := stores.Messages.GetMessage(ctx, msg.ID)
	if !stored.Deleted || stored.Type != models.MessageDeleted || stored.Text != models.DeletedText {
		t.Fatalf("GetMessage() after delete = %+v", stored)
	}

	if err := stores.Chats.DeleteChat(ctx, chat.ID); err != nil {
		t.Fatalf("DeleteChat() error = %v", err)
	}
	if _, err := stores.Messages.GetMessage(ctx, msg.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("message survived chat purge: %v", err)
	}
}

func TestOpenMemoryHasNoMigrator(t *testing.T) {
	stores, err := Open(context.Background(), config.DatabaseConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if stores.Persistent() {
		t.Fatalf("memory stores reported persistent")
	}
	if _, err := stores.Migrator(); err == nil {
		t.Fatalf("expected Migrator() error for memory driver")
	}
	if _, err := Open(context.Background(), config.DatabaseConfig{Driver: "mongo"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestSplitMigrationName(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		direction string
		ok        bool
	}{
		{"0001_init.up.sql", "0001_init", "up", true},
		{"0002_chat.deletions.down.sql", "0002_chat.deletions", "down", true},
		{"0003_seed.sql", "", "", false},
		{"README.md", "", "", false},
	}
	for _, tt := range tests {
		id, direction, ok := splitMigrationName(tt.name)
		if id != tt.id || direction != tt.direction || ok != tt.ok {
			t.Fatalf("splitMigrationName(%q) = %q, %q, %v", tt.name, id, direction, ok)
		}
	}
}
