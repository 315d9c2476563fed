package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/coursemart-api/pkg/database"
)

// Migrator applies schema migrations against a database URL.
type Migrator interface {
	Up(databaseURL string) error
	Down(databaseURL string, steps int) error
	Version(databaseURL string) (uint, bool, error)
}

type embeddedMigrator struct{}

func (embeddedMigrator) Up(databaseURL string) error { return database.MigrateUp(databaseURL) }

func (embeddedMigrator) Down(databaseURL string, steps int) error {
	return database.MigrateDown(databaseURL, steps)
}

func (embeddedMigrator) Version(databaseURL string) (uint, bool, error) {
	return database.Version(databaseURL)
}

// NewMigrateCommand creates the migrate command group.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return newMigrateCommand(rootOpts, embeddedMigrator{})
}

func newMigrateCommand(rootOpts *RootOptions, migrator Migrator) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := migrator.Up(rootOpts.cfg.Database.URL()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := migrator.Down(rootOpts.cfg.Database.URL(), steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d step(s)\n", max(steps, 1))
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			version, dirty, err := migrator.Version(rootOpts.cfg.Database.URL())
			if err != nil {
				return err
			}
			state := "clean"
			if dirty {
				state = "dirty"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (%s)\n", version, state)
			return nil
		},
	})

	return cmd
}
