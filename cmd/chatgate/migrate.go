// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/chatgate/chatgate/internal/store"
)

// migrator is the part of *store.Migrator the migrate commands use.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Pending() ([]uint, error)
	Close() error
}

// migratorFactory opens a migrator; tests replace it.
var migratorFactory = func(url string) (migrator, error) {
	return store.NewMigrator(url)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Apply, revert and inspect the embedded PostgreSQL schema migrations.
Without a subcommand, all pending migrations are applied.`,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			return runMigrateUp(cmd, m)
		}),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			return runMigrateUp(cmd, m)
		}),
	})

	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert the latest migration (or all with --all)",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			return runMigrateDown(cmd, m, all)
		}),
	}
	down.Flags().BoolVar(&all, "all", false, "revert every migration, dropping all tables")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			return runMigrateStatus(cmd, m)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			cmd.Println(formatVersion(version, dirty))
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Long: `Record VERSION as the applied migration and clear the dirty flag.
Use it only after repairing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(version); err != nil {
				return err
			}
			cmd.Printf("Forced migration version to %d\n", version)
			return nil
		}),
	})

	return cmd
}

// withMigrator resolves the database URL, opens a migrator for the run,
// and closes it afterwards.
func withMigrator(run func(cmd *cobra.Command, m migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		databaseURL, err := getDatabaseURL(cmd)
		if err != nil {
			return err
		}
		m, err := migratorFactory(databaseURL)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil {
				cmd.PrintErrf("warning: close migrator: %v\n", closeErr)
			}
		}()
		return run(cmd, m, args)
	}
}

func runMigrateUp(cmd *cobra.Command, m migrator) error {
	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return err
	}
	version, _, err := m.Version()
	if err != nil {
		return err
	}
	cmd.Printf("Migrations completed successfully (version %d)\n", version)
	return nil
}

func runMigrateDown(cmd *cobra.Command, m migrator, all bool) error {
	if all {
		cmd.Println("Reverting all migrations...")
		if err := m.Down(); err != nil {
			return err
		}
		cmd.Println("All migrations reverted")
		return nil
	}
	if err := m.Steps(-1); err != nil {
		return err
	}
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	cmd.Printf("Reverted one migration, now at %s\n", formatVersion(version, dirty))
	return nil
}

func runMigrateStatus(cmd *cobra.Command, m migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	pending, err := m.Pending()
	if err != nil {
		return err
	}

	cmd.Printf("Current version: %s\n", formatVersion(version, dirty))
	if len(pending) == 0 {
		cmd.Println("Database is up to date")
		return nil
	}
	cmd.Printf("Pending migrations (%d):\n", len(pending))
	for _, v := range pending {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = fmt.Sprintf("%06d", v)
		}
		cmd.Printf("  %s\n", name)
	}
	return nil
}

func formatVersion(version uint, dirty bool) string {
	if dirty {
		return fmt.Sprintf("%d (dirty)", version)
	}
	return fmt.Sprintf("%d", version)
}

// parseForceVersion reads the leading integer of s.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("invalid version %q: must be an integer", s)
	}
	return version, nil
}

// migrateUp applies pending migrations to databaseURL.
func migrateUp(databaseURL string) (err error) {
	m, err := migratorFactory(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return m.Up()
}
