package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/nfrund/duochat/internal/app"
	"github.com/nfrund/duochat/internal/database"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/spf13/cobra"
)

var (
	usersFormat  string
	storeTimeout time.Duration
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Provision and list users",
	Long: `Manage users directly in the configured store.

The badger store holds an exclusive lock on its directory, so run these
commands while the server is stopped, or create users over the API with
POST /api/users instead.`,
}

var usersAddCmd = &cobra.Command{
	Use:   "add <username>...",
	Short: "Create users and print their ids",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(usersFormat); err != nil {
			return err
		}
		return withStore(cmd.Context(), func(ctx context.Context, store domain.Store) error {
			created := make([]domain.User, 0, len(args))
			for _, name := range args {
				u, err := store.CreateUser(ctx, name)
				if err != nil {
					return fmt.Errorf("create %q: %w", name, err)
				}
				created = append(created, *u)
			}
			return printUsers(cmd.OutOrStdout(), usersFormat, created)
		})
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users ordered by id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(usersFormat); err != nil {
			return err
		}
		return withStore(cmd.Context(), func(ctx context.Context, store domain.Store) error {
			users, err := store.ListUsers(ctx)
			if err != nil {
				return err
			}
			return printUsers(cmd.OutOrStdout(), usersFormat, users)
		})
	},
}

// withStore opens the configured store for the duration of fn.
func withStore(ctx context.Context, fn func(ctx context.Context, store domain.Store) error) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if storeTimeout > 0 {
		ctx = database.WithExecuteTimeout(database.WithQueryTimeout(ctx, storeTimeout), storeTimeout)
	}
	return fn(ctx, store)
}

func init() {
	usersCmd.PersistentFlags().StringVarP(&usersFormat, "format", "f", formatTable, "Output format (table, json)")
	usersCmd.AddCommand(usersAddCmd, usersListCmd)
	rootCmd.AddCommand(usersCmd)
}
