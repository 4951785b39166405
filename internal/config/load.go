// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override. Double underscores nest,
// so CHATGATE_AUTH__JWT_SECRET sets auth.jwt_secret.
const EnvPrefix = "CHATGATE_"

// DatabaseURLEnv is honored when database.url is otherwise unset.
const DatabaseURLEnv = "DATABASE_URL"

// FlagConfigFile names the flag holding the YAML config path.
const FlagConfigFile = "config"

// listKeys are split on commas when they come from the environment.
var listKeys = map[string]struct{}{
	"quota.admin_emails": {},
}

// RegisterFlags adds one flag per configuration key, defaulting to Default().
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String(FlagConfigFile, "", "path to a YAML config file")

	fs.String("server.addr", d.Server.Addr, "API listen address")
	fs.String("server.metrics_addr", d.Server.MetricsAddr, "metrics and health listen address (empty disables)")
	fs.Bool("server.debug", d.Server.Debug, "debug mode: echo reset tokens, skip admin setup token")
	fs.Duration("server.shutdown_timeout", d.Server.ShutdownTimeout, "graceful shutdown timeout")

	fs.String("log.format", d.Log.Format, "log format (json, text)")
	fs.String("log.level", d.Log.Level, "log level (debug, info, warn, error)")

	fs.String("database.url", d.Database.URL, "PostgreSQL connection URL")
	fs.Int32("database.max_conns", d.Database.MaxConns, "maximum pool connections (0 keeps the driver default)")
	fs.Duration("database.idle_time", d.Database.IdleTime, "maximum idle time of a pooled connection")

	fs.String("auth.jwt_secret", d.Auth.JWTSecret, "HMAC secret for session tokens (at least 32 bytes)")
	fs.Duration("auth.token_ttl", d.Auth.TokenTTL, "session token lifetime")
	fs.Duration("auth.reset_token_ttl", d.Auth.ResetTokenTTL, "password reset token lifetime")
	fs.String("auth.admin_setup_token", d.Auth.AdminSetupToken, "token required by the admin setup endpoint")

	fs.Int("quota.default_max_chats", d.Quota.DefaultMaxChats, "chat allowance of new users")
	fs.Int("quota.premium_max_chats", d.Quota.PremiumMaxChats, "max_chats stored for premium users")
	fs.StringSlice("quota.admin_emails", d.Quota.AdminEmails, "glob patterns of administrator emails")

	fs.String("redis.addr", d.Redis.Addr, "Redis address for token revocation (empty keeps revocations in process)")
	fs.String("redis.password", d.Redis.Password, "Redis password")
	fs.Int("redis.db", d.Redis.DB, "Redis database number")

	fs.String("email.from", d.Email.From, "reset email sender (empty logs reset links)")
	fs.String("email.from_name", d.Email.FromName, "reset email sender name")
	fs.String("email.region", d.Email.Region, "SES region (empty uses the AWS default chain)")
	fs.String("email.base_url", d.Email.BaseURL, "public URL used to build reset links")

	fs.String("chat.engine_url", d.Chat.EngineURL, "chat engine base URL")
	fs.Duration("chat.timeout", d.Chat.Timeout, "chat engine request timeout")

	fs.Int("tracker.attempts", d.Tracker.Attempts, "attempts per chat session record")
	fs.Duration("tracker.base_delay", d.Tracker.BaseDelay, "first retry delay of the session tracker")
	fs.Int("tracker.queue_size", d.Tracker.QueueSize, "pending chat session records before dropping")
}

// Load resolves the configuration. Precedence, lowest first: flag
// defaults, the YAML file named by --config, CHATGATE_ environment
// variables, then flags set explicitly on the command line. fs may be nil,
// in which case only defaults, the environment and path apply.
func Load(fs *pflag.FlagSet, path string) (Config, error) {
	if fs == nil {
		fs = pflag.NewFlagSet("chatgate", pflag.ContinueOnError)
		RegisterFlags(fs)
	}
	if path == "" {
		if f := fs.Lookup(FlagConfigFile); f != nil {
			path = f.Value.String()
		}
	}

	k := koanf.New(".")

	// Defaults: every flag is unset in the empty koanf, so all are merged.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flag defaults").Wrap(err)
	}
	k.Delete(FlagConfigFile)

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateSchema(data); err != nil {
			return Config{}, oops.Code(CodeInvalid).With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "environment").Wrap(err)
	}

	// Explicit flags win. Unchanged flags exist by now and are skipped.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
	}
	k.Delete(FlagConfigFile)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code(CodeInvalid).Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv(DatabaseURLEnv)
	}
	return cfg, nil
}

// envKey maps CHATGATE_AUTH__JWT_SECRET to auth.jwt_secret.
func envKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if _, ok := listKeys[key]; ok {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return key, out
	}
	return key, value
}
