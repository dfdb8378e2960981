package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kislikjeka/booksync/internal/infra/postgres"
)

// MigrateOptions holds flags for the migrate commands
type MigrateOptions struct {
	*RootOptions
	DatabaseURL string
	Steps       int
}

// NewMigrateCommand creates the migrate command group
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.DatabaseURL == "" {
				return fmt.Errorf("--database-url or DATABASE_URL is required")
			}
			before, after, err := postgres.Migrate(opts.DatabaseURL)
			if err != nil {
				return err
			}
			return opts.print(cmd, map[string]uint{"from": before, "to": after}, func(w io.Writer) {
				if before == after {
					fmt.Fprintf(w, "schema is current at version %d\n", after)
					return
				}
				fmt.Fprintf(w, "migrated from version %d to %d\n", before, after)
			})
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.DatabaseURL == "" {
				return fmt.Errorf("--database-url or DATABASE_URL is required")
			}
			if opts.Steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			if err := postgres.MigrateDown(opts.DatabaseURL, opts.Steps); err != nil {
				return err
			}
			return opts.print(cmd, map[string]int{"rolled_back": opts.Steps}, func(w io.Writer) {
				fmt.Fprintf(w, "rolled back %d migration(s)\n", opts.Steps)
			})
		},
	}
	down.Flags().IntVar(&opts.Steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}
