package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/config"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/repository"
)

var errDatabaseURLMissing = errors.New("DATABASE_URL is not set")

func newMigrateCmd() *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			databaseURL := config.Load().DatabaseURL
			if databaseURL == "" {
				return errDatabaseURLMissing
			}
			if down > 0 {
				if err := repository.MigrateDown(databaseURL, down); err != nil {
					return err
				}
			} else if err := repository.Migrate(databaseURL); err != nil {
				return err
			}
			return printVersion(cmd, databaseURL)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead of applying")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			databaseURL := config.Load().DatabaseURL
			if databaseURL == "" {
				return errDatabaseURLMissing
			}
			return printVersion(cmd, databaseURL)
		},
	})
	return cmd
}

func printVersion(cmd *cobra.Command, databaseURL string) error {
	version, dirty, err := repository.MigrationVersion(databaseURL)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d dirty=%t\n", version, dirty)
	return nil
}
