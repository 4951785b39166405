// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

// Package config loads chatgate configuration from flags, a YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/samber/oops"

	"github.com/chatgate/chatgate/internal/account"
	"github.com/chatgate/chatgate/internal/logging"
	"github.com/chatgate/chatgate/internal/token"
)

// CodeInvalid marks configuration that failed validation.
const CodeInvalid = "CONFIG_INVALID"

// Config is the complete process configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server" yaml:"server"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
	Database DatabaseConfig `koanf:"database" yaml:"database"`
	Auth     AuthConfig     `koanf:"auth" yaml:"auth"`
	Quota    QuotaConfig    `koanf:"quota" yaml:"quota"`
	Redis    RedisConfig    `koanf:"redis" yaml:"redis"`
	Email    EmailConfig    `koanf:"email" yaml:"email"`
	Chat     ChatConfig     `koanf:"chat" yaml:"chat"`
	Tracker  TrackerConfig  `koanf:"tracker" yaml:"tracker"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr" jsonschema:"description=API listen address"`
	MetricsAddr     string        `koanf:"metrics_addr" yaml:"metrics_addr" jsonschema:"description=Metrics and health listen address; empty disables"`
	Debug           bool          `koanf:"debug" yaml:"debug" jsonschema:"description=Echo reset tokens and skip the admin setup token check"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LogConfig configures logging.Setup.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// DatabaseConfig locates PostgreSQL.
type DatabaseConfig struct {
	URL      string        `koanf:"url" yaml:"url" jsonschema:"description=PostgreSQL connection URL; DATABASE_URL is used when empty"`
	MaxConns int32         `koanf:"max_conns" yaml:"max_conns" jsonschema:"minimum=0"`
	IdleTime time.Duration `koanf:"idle_time" yaml:"idle_time"`
}

// AuthConfig configures tokens and password resets.
type AuthConfig struct {
	JWTSecret       string        `koanf:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL        time.Duration `koanf:"token_ttl" yaml:"token_ttl"`
	ResetTokenTTL   time.Duration `koanf:"reset_token_ttl" yaml:"reset_token_ttl"`
	AdminSetupToken string        `koanf:"admin_setup_token" yaml:"admin_setup_token"`
}

// QuotaConfig configures chat allowances.
type QuotaConfig struct {
	DefaultMaxChats int      `koanf:"default_max_chats" yaml:"default_max_chats" jsonschema:"minimum=1"`
	PremiumMaxChats int      `koanf:"premium_max_chats" yaml:"premium_max_chats" jsonschema:"minimum=1"`
	AdminEmails     []string `koanf:"admin_emails" yaml:"admin_emails" jsonschema:"description=Glob patterns of administrator emails"`
}

// RedisConfig locates the token revocation store.
type RedisConfig struct {
	Addr     string `koanf:"addr" yaml:"addr" jsonschema:"description=host:port; empty keeps revocations in process"`
	Password string `koanf:"password" yaml:"password"`
	DB       int    `koanf:"db" yaml:"db" jsonschema:"minimum=0"`
}

// EmailConfig configures reset email delivery through SES.
type EmailConfig struct {
	From     string `koanf:"from" yaml:"from" jsonschema:"description=Sender address; empty logs reset links instead of sending"`
	FromName string `koanf:"from_name" yaml:"from_name"`
	Region   string `koanf:"region" yaml:"region"`
	BaseURL  string `koanf:"base_url" yaml:"base_url" jsonschema:"description=Public URL used to build reset links"`
}

// ChatConfig locates the chat engine.
type ChatConfig struct {
	EngineURL string        `koanf:"engine_url" yaml:"engine_url"`
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout"`
}

// TrackerConfig tunes the chat session bookkeeping worker.
type TrackerConfig struct {
	Attempts  int           `koanf:"attempts" yaml:"attempts" jsonschema:"minimum=1"`
	BaseDelay time.Duration `koanf:"base_delay" yaml:"base_delay"`
	QueueSize int           `koanf:"queue_size" yaml:"queue_size" jsonschema:"minimum=1"`
}

// Default returns the built-in configuration.
func Default() Config {
	policy := account.DefaultPolicy()
	tracker := account.DefaultTrackerConfig()
	return Config{
		Server: ServerConfig{
			Addr:            ":8000",
			MetricsAddr:     "127.0.0.1:9100",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Format: "json", Level: "info"},
		Database: DatabaseConfig{
			IdleTime: 5 * time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL:      24 * time.Hour,
			ResetTokenTTL: policy.ResetTokenTTL,
		},
		Quota: QuotaConfig{
			DefaultMaxChats: policy.DefaultMaxChats,
			PremiumMaxChats: policy.PremiumMaxChats,
		},
		Email: EmailConfig{
			FromName: "Chatgate",
			BaseURL:  "http://localhost:8000",
		},
		Chat: ChatConfig{
			EngineURL: "http://localhost:8080",
			Timeout:   60 * time.Second,
		},
		Tracker: TrackerConfig{
			Attempts:  int(tracker.Attempts),
			BaseDelay: tracker.BaseDelay,
			QueueSize: tracker.QueueSize,
		},
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Database.URL != "", "database.url is required")
	check(len(c.Auth.JWTSecret) >= token.MinSecretLength,
		"auth.jwt_secret must be at least %d bytes", token.MinSecretLength)
	check(c.Auth.TokenTTL > 0, "auth.token_ttl must be positive")
	check(c.Auth.ResetTokenTTL > 0, "auth.reset_token_ttl must be positive")
	check(c.Quota.DefaultMaxChats > 0, "quota.default_max_chats must be positive")
	check(c.Quota.PremiumMaxChats >= c.Quota.DefaultMaxChats,
		"quota.premium_max_chats must not be below quota.default_max_chats")
	check(c.Log.Format == "json" || c.Log.Format == "text", "log.format must be json or text, got %q", c.Log.Format)
	check(c.Server.Addr != "", "server.addr is required")
	check(c.Server.ShutdownTimeout > 0, "server.shutdown_timeout must be positive")
	check(c.Chat.Timeout > 0, "chat.timeout must be positive")
	check(c.Tracker.Attempts > 0, "tracker.attempts must be positive")
	check(c.Tracker.QueueSize > 0, "tracker.queue_size must be positive")
	if c.Chat.EngineURL != "" {
		u, err := url.Parse(c.Chat.EngineURL)
		check(err == nil && (u.Scheme == "http" || u.Scheme == "https"),
			"chat.engine_url must be an http(s) URL")
	}
	if _, err := account.NewGlobAdminMatcher(c.Quota.AdminEmails); err != nil {
		errs = append(errs, fmt.Errorf("quota.admin_emails: %w", err))
	}

	if len(errs) > 0 {
		return oops.Code(CodeInvalid).Wrap(errors.Join(errs...))
	}
	return nil
}

// Policy derives the account policy.
func (c Config) Policy() account.Policy {
	return account.Policy{
		DefaultMaxChats: c.Quota.DefaultMaxChats,
		PremiumMaxChats: c.Quota.PremiumMaxChats,
		ResetTokenTTL:   c.Auth.ResetTokenTTL,
	}
}

// TrackerSettings derives the session tracker settings.
func (c Config) TrackerSettings() account.TrackerConfig {
	tc := account.DefaultTrackerConfig()
	if c.Tracker.Attempts > 0 {
		tc.Attempts = uint64(c.Tracker.Attempts)
	}
	tc.BaseDelay = c.Tracker.BaseDelay
	tc.QueueSize = c.Tracker.QueueSize
	return tc
}

// Redacted returns a copy safe to print: secrets are masked and the
// database password is stripped from the URL.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return logging.Redacted
	}
	out := c
	out.Auth.JWTSecret = mask(c.Auth.JWTSecret)
	out.Auth.AdminSetupToken = mask(c.Auth.AdminSetupToken)
	out.Redis.Password = mask(c.Redis.Password)
	if u, err := url.Parse(c.Database.URL); err == nil && c.Database.URL != "" {
		out.Database.URL = u.Redacted()
	} else if c.Database.URL != "" {
		out.Database.URL = logging.Redacted
	}
	out.Quota.AdminEmails = append([]string(nil), c.Quota.AdminEmails...)
	return out
}
