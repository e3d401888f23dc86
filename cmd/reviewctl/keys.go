package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/codereview/internal/apikey"
	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/internal/store"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

// keyStore is the part of the store the keys commands use.
type keyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// openKeyStore connects to the database. Replaced in tests.
var openKeyStore = func(ctx context.Context, dbURL string) (keyStore, func(), error) {
	url, err := databaseURL(dbURL)
	if err != nil {
		return nil, nil, err
	}
	pool, err := store.Connect(ctx, config.DatabaseConfig{URL: url, MaxOpenConns: 2, MaxIdleConns: 1, ConnMaxLifetime: time.Minute})
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

func newKeysCmd() *cobra.Command {
	var dbURL string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.PersistentFlags().StringVar(&dbURL, "database-url", "", "database URL (defaults to $DATABASE_URL)")

	var name string
	var scopes []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, key, err := apikey.New().Generate(name, scopes)
			if err != nil {
				return err
			}
			ks, closeFn, err := openKeyStore(cmd.Context(), dbURL)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := ks.CreateAPIKey(cmd.Context(), key); err != nil {
				return fmt.Errorf("create key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id:     %s\nscopes: %s\nkey:    %s\n\nStore the key now; it cannot be shown again.\n",
				key.ID, strings.Join(key.Scopes, ","), raw)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "human readable key name")
	create.Flags().StringSliceVar(&scopes, "scope", []string{models.ScopeAnalyze}, "granted scope: analyze, callback or admin (repeatable)")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ks, closeFn, err := openKeyStore(cmd.Context(), dbURL)
			if err != nil {
				return err
			}
			defer closeFn()
			keys, err := ks.ListAPIKeys(cmd.Context())
			if err != nil {
				return fmt.Errorf("list keys: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tSCOPES\tLAST USED")
			for _, k := range keys {
				last := "never"
				if k.LastUsedAt != nil {
					last = k.LastUsedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), last)
			}
			return tw.Flush()
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("key id must be a UUID: %w", err)
			}
			ks, closeFn, err := openKeyStore(cmd.Context(), dbURL)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := ks.RevokeAPIKey(cmd.Context(), id); err != nil {
				return fmt.Errorf("revoke key %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key %s revoked.\n", id)
			return nil
		},
	}

	cmd.AddCommand(create, list, revoke)
	return cmd
}
