package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/parley/internal/storage"
)

// runMigrateUp handles the migrate up command.
func runMigrateUp(cmd *cobra.Command, configPath string, explicit bool, steps int) error {
	slog.Info("running database migrations", "config", configPath, "steps", steps)

	migrator, closeDB, err := openMigrator(cmd, configPath, explicit)
	if err != nil {
		return err
	}
	defer closeDB()

	applied, err := migrator.Up(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
		return nil
	}
	for _, id := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", id)
	}
	return nil
}

// runMigrateDown handles the migrate down command.
func runMigrateDown(cmd *cobra.Command, configPath string, explicit bool, steps int) error {
	slog.Warn("rolling back migrations", "config", configPath, "steps", steps)

	migrator, closeDB, err := openMigrator(cmd, configPath, explicit)
	if err != nil {
		return err
	}
	defer closeDB()

	rolled, err := migrator.Down(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(rolled) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations to roll back.")
		return nil
	}
	for _, id := range rolled {
		fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s\n", id)
	}
	return nil
}

// runMigrateStatus handles the migrate status command.
func runMigrateStatus(cmd *cobra.Command, configPath string, explicit bool) error {
	migrator, closeDB, err := openMigrator(cmd, configPath, explicit)
	if err != nil {
		return err
	}
	defer closeDB()

	applied, pending, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Migration Status")
	fmt.Fprintln(out, "================")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Applied migrations:")
	if len(applied) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, entry := range applied {
		fmt.Fprintf(out, "  - %s (%s)\n", entry.ID, entry.AppliedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Pending migrations:")
	if len(pending) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, entry := range pending {
		fmt.Fprintf(out, "  - %s\n", entry.ID)
	}
	return nil
}

func openMigrator(cmd *cobra.Command, configPath string, explicit bool) (*storage.Migrator, func(), error) {
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return nil, nil, err
	}
	stores, err := storage.Open(cmd.Context(), cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	migrator, err := stores.Migrator()
	if err != nil {
		_ = stores.Close()
		return nil, nil, err
	}
	return migrator, func() { _ = stores.Close() }, nil
}
