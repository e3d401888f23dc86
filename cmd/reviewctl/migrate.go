package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/codereview/internal/store"
)

func databaseURL(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v, nil
	}
	return "", errors.New("DATABASE_URL is required (or pass --database-url)")
}

func newMigrateCmd() *cobra.Command {
	var dir, dbURL string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL(dbURL)
			if err != nil {
				return err
			}
			if err := store.RunMigrations(url, dir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "directory holding the migration files")
	cmd.Flags().StringVar(&dbURL, "database-url", "", "database URL (defaults to $DATABASE_URL)")
	return cmd
}
