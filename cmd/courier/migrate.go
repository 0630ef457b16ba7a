package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/courier/internal/db"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, *configPath, db.Up)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, *configPath, db.Down)
		},
	})
	return cmd
}

func runMigrate(cmd *cobra.Command, configPath string, direction db.Direction) error {
	ctx := context.Background()
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "postgres":
		if err := db.Migrate(cfg.Postgres, direction); err != nil {
			return err
		}
	case "sqlite", "mysql":
		// gorm stores migrate their tables on open; there is nothing to roll back to.
		if direction == db.Down {
			return fmt.Errorf("migrate down is not supported for storage.driver %q", cfg.Storage.Driver)
		}
		s, err := openStorage(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		if _, err := s.threadStore(); err != nil {
			return err
		}
		if _, err := s.accountsStore(); err != nil {
			return err
		}
	default:
		fmt.Fprintf(out, "storage.driver %q has no schema to migrate\n", cfg.Storage.Driver)
		return nil
	}
	fmt.Fprintf(out, "migrate %s: done\n", direction)
	return nil
}
