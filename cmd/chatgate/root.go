// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/xdg"
)

// NewRootCmd creates the root command for the chatgate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatgate",
		Short: "Chatgate - accounts, quotas and chat routing for a hosted chat service",
		Long: `Chatgate fronts a chat engine with user accounts, bearer tokens,
per-user chat quotas, password resets and chat session tracking.`,
		SilenceUsage: true,
	}

	// Every configuration key doubles as a persistent flag.
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewAdminCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig resolves the configuration from the flags of cmd, the config
// file, and the environment. Without --config, the XDG config file is used
// when present.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var path string
	if f := cmd.Flags().Lookup(config.FlagConfigFile); f == nil || f.Value.String() == "" {
		found, err := xdg.FindConfigFile()
		if err != nil {
			return config.Config{}, err
		}
		path = found
	}

	cfg, err := config.Load(cmd.Flags(), path)
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// getDatabaseURL loads the configuration and returns the database URL,
// the only setting the maintenance commands need.
func getDatabaseURL(cmd *cobra.Command) (string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	if err := requireDatabaseURL(cfg); err != nil {
		return "", err
	}
	return cfg.Database.URL, nil
}

func requireDatabaseURL(cfg config.Config) error {
	if cfg.Database.URL == "" {
		return oops.Code(config.CodeInvalid).
			Errorf("database.url is required (flag, CHATGATE_DATABASE__URL, or DATABASE_URL)")
	}
	return nil
}
