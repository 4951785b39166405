// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chatgate/chatgate/internal/account"
	"github.com/chatgate/chatgate/internal/account/postgres"
	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/store"
)

// adminTools bundles the account components the admin commands drive.
type adminTools struct {
	users *postgres.UserRepository
	creds *account.CredentialStore
	quota *account.QuotaEnforcer
}

// adminDatabaseFactory opens the pool for admin commands; tests replace it.
var adminDatabaseFactory = func(ctx context.Context, url string) (Database, error) {
	return store.NewPool(ctx, url, store.PoolConfig{MaxConns: 2})
}

// NewAdminCmd creates the admin subcommand.
func NewAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator maintenance of user accounts",
		Long: `Change subscription tiers and chat counters directly in the database,
without going through the API.`,
	}

	var tier string
	grant := &cobra.Command{
		Use:   "grant-premium EMAIL",
		Short: "Grant a paid tier to the account registered under EMAIL",
		Args:  cobra.ExactArgs(1),
		RunE: withAdminTools(func(cmd *cobra.Command, tools *adminTools, args []string) error {
			ctx := cmd.Context()
			user, err := tools.users.GetByEmail(ctx, account.NormalizeEmail(args[0]))
			if err != nil {
				return err
			}
			user, err = tools.creds.SetPremium(ctx, user.ID, tier)
			if err != nil {
				return err
			}
			cmd.Printf("%s is now %s\n", user.Email, user.SubscriptionType)
			return nil
		}),
	}
	grant.Flags().StringVar(&tier, "tier", account.TierPremium, "subscription tier to grant")
	cmd.AddCommand(grant)

	var freeTrial bool
	reset := &cobra.Command{
		Use:   "reset-usage EMAIL",
		Short: "Zero the chat counter of the account registered under EMAIL",
		Args:  cobra.ExactArgs(1),
		RunE: withAdminTools(func(cmd *cobra.Command, tools *adminTools, args []string) error {
			ctx := cmd.Context()
			user, err := tools.users.GetByEmail(ctx, account.NormalizeEmail(args[0]))
			if err != nil {
				return err
			}
			if freeTrial {
				err = tools.quota.ResetFreeTrial(ctx, user.ID)
			} else {
				err = tools.quota.ResetUsage(ctx, user.ID)
			}
			if err != nil {
				return err
			}
			usage, err := tools.quota.Remaining(ctx, user.ID)
			if err != nil {
				return err
			}
			cmd.Printf("%s: %d of %d chats used\n", user.Email, usage.Used, usage.Limit)
			return nil
		}),
	}
	reset.Flags().BoolVar(&freeTrial, "free-trial", false, "also return the account to the free tier allowance")
	cmd.AddCommand(reset)

	return cmd
}

// withAdminTools loads the configuration, opens the database, and builds
// the account components for one command run.
func withAdminTools(run func(cmd *cobra.Command, tools *adminTools, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := requireDatabaseURL(cfg); err != nil {
			return err
		}

		db, err := adminDatabaseFactory(cmd.Context(), cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()

		tools, err := newAdminTools(db, cfg)
		if err != nil {
			return err
		}
		return run(cmd, tools, args)
	}
}

func newAdminTools(db postgres.DBTX, cfg config.Config) (*adminTools, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := postgres.NewUserRepository(db)
	policy := cfg.Policy()

	creds, err := account.NewCredentialStore(users, account.NewArgon2idHasher(), policy, account.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	quota, err := account.NewQuotaEnforcer(users, policy, account.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &adminTools{users: users, creds: creds, quota: quota}, nil
}
