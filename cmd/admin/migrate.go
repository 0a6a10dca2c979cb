package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the account store schema up to date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, opts)
		},
	}
}

func runMigrate(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	rm, err := opts.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer rm.Close(context.Background())

	cmd.Printf("Running migrations (%s)...\n", cfg.StoreBackend)
	if err := rm.RunMigrations(ctx); err != nil {
		return oops.Code("MIGRATION_FAILED").With("backend", cfg.StoreBackend).Wrap(err)
	}

	cmd.Println("Migrations complete")
	return nil
}
