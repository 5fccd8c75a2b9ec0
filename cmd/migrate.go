package cmd

import (
	"context"
	"fmt"

	"github.com/newhook/nextpick/internal/journal"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage journal migrations",
	Long:  `Manage schema migrations of the event journal database.`,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateStatus,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Long:  `Apply all pending journal migrations. This happens automatically whenever the journal is opened.`,
	Args:  cobra.NoArgs,
	RunE:  runMigrateUp,
}

var migrateRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Rollback the last migration",
	Args:  cobra.NoArgs,
	RunE:  runMigrateRollback,
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateRollbackCmd)
	rootCmd.AddCommand(migrateCmd)
}

// openJournal opens the journal at its configured path, whether or not
// recording is enabled.
func openJournal(ctx context.Context) (*journal.Journal, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	j, err := journal.Open(ctx, cfg.Journal.GetPath(flagRoot))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return j, nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	j, err := openJournal(ctx)
	if err != nil {
		return err
	}
	defer j.Close()

	versions, err := j.Migrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(versions) == 0 {
		fmt.Fprintln(out, "No migrations applied.")
		return nil
	}
	fmt.Fprintf(out, "Applied migrations (%d):\n", len(versions))
	for _, version := range versions {
		fmt.Fprintf(out, "  %s\n", version)
	}
	return nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	j, err := openJournal(ctx)
	if err != nil {
		return err
	}
	defer j.Close()

	if err := j.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "All migrations applied successfully.")
	return nil
}

func runMigrateRollback(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	j, err := openJournal(ctx)
	if err != nil {
		return err
	}
	defer j.Close()

	if err := j.Rollback(ctx); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Migration rolled back successfully.")
	return nil
}
