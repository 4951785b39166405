// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/chatgate/chatgate/internal/account"
	"github.com/chatgate/chatgate/internal/account/postgres"
	"github.com/chatgate/chatgate/internal/api"
	"github.com/chatgate/chatgate/internal/chatengine"
	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/facade"
	"github.com/chatgate/chatgate/internal/logging"
	"github.com/chatgate/chatgate/internal/notify"
	"github.com/chatgate/chatgate/internal/observability"
	"github.com/chatgate/chatgate/internal/store"
	"github.com/chatgate/chatgate/internal/token"
)

const (
	serviceName      = "chatgate"
	readinessTimeout = 2 * time.Second
	redisPingTimeout = 5 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the HTTP API together with the metrics and health endpoints.
The process stops gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, autoMigrate, nil)
		},
	}

	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "apply pending database migrations before serving")
	return cmd
}

// Database is the part of *pgxpool.Pool the server uses.
type Database interface {
	postgres.DBTX
	store.Pinger
	Close()
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// DatabaseFactory opens the connection pool.
	// Default: store.NewPool
	DatabaseFactory func(ctx context.Context, url string, cfg store.PoolConfig) (Database, error)

	// Migrate applies pending migrations when --auto-migrate is set.
	// Default: migrateUp
	Migrate func(url string) error

	// NotifierFactory builds the password reset notifier.
	// Default: newNotifier
	NotifierFactory func(ctx context.Context, cfg config.Config, logger *slog.Logger) (account.ResetNotifier, error)

	// EngineFactory builds the chat engine client.
	// Default: chatengine.NewHTTPEngine
	EngineFactory func(cfg config.ChatConfig) (facade.ChatEngine, error)
}

func (d *ServeDeps) applyDefaults() {
	if d.DatabaseFactory == nil {
		d.DatabaseFactory = func(ctx context.Context, url string, cfg store.PoolConfig) (Database, error) {
			return store.NewPool(ctx, url, cfg)
		}
	}
	if d.Migrate == nil {
		d.Migrate = migrateUp
	}
	if d.NotifierFactory == nil {
		d.NotifierFactory = newNotifier
	}
	if d.EngineFactory == nil {
		d.EngineFactory = func(cfg config.ChatConfig) (facade.ChatEngine, error) {
			return chatengine.NewHTTPEngine(cfg.EngineURL, cfg.Timeout)
		}
	}
}

// runServeWithDeps runs the server until ctx ends or a listener fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg config.Config, autoMigrate bool, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, cfg.Log.Level)
	logger.Info("starting chatgate",
		"addr", cfg.Server.Addr,
		"metrics_addr", cfg.Server.MetricsAddr,
		"debug", cfg.Server.Debug)
	if cfg.Server.Debug {
		logger.Warn("debug mode is on: reset tokens are echoed and the admin setup token is not checked")
	}

	if autoMigrate {
		if err := deps.Migrate(cfg.Database.URL); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	db, err := deps.DatabaseFactory(ctx, cfg.Database.URL, store.PoolConfig{
		MaxConns:        cfg.Database.MaxConns,
		MaxConnIdleTime: cfg.Database.IdleTime,
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open database").Wrap(err)
	}
	defer db.Close()

	revoker, closeRevoker, err := newRevoker(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeRevoker()

	tokens, err := token.NewService([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL,
		token.WithRevoker(revoker),
		token.WithLogger(logger))
	if err != nil {
		return oops.Code(config.CodeInvalid).With("operation", "create token service").Wrap(err)
	}

	matcher, err := account.NewGlobAdminMatcher(cfg.Quota.AdminEmails)
	if err != nil {
		return oops.Code(config.CodeInvalid).With("operation", "compile admin emails").Wrap(err)
	}
	accountOpts := []account.Option{account.WithLogger(logger), account.WithAdminMatcher(matcher)}

	users := postgres.NewUserRepository(db)
	sessions := postgres.NewSessionRepository(db)
	hasher := account.NewArgon2idHasher()
	policy := cfg.Policy()

	creds, err := account.NewCredentialStore(users, hasher, policy, accountOpts...)
	if err != nil {
		return err
	}
	quota, err := account.NewQuotaEnforcer(users, policy, accountOpts...)
	if err != nil {
		return err
	}
	notifier, err := deps.NotifierFactory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	resets, err := account.NewPasswordResetFlow(users, users, hasher, notifier, policy, accountOpts...)
	if err != nil {
		return err
	}

	trackerCfg := cfg.TrackerSettings()
	trackerCfg.OnFailure = observability.RecordTrackerFailure
	tracker, err := account.NewChatSessionTracker(sessions, trackerCfg, accountOpts...)
	if err != nil {
		return err
	}

	engine, err := deps.EngineFactory(cfg.Chat)
	if err != nil {
		closeTracker(tracker, cfg.Server.ShutdownTimeout, logger)
		return oops.Code(config.CodeInvalid).With("operation", "create chat engine").Wrap(err)
	}

	facadeOpts := []facade.Option{
		facade.WithLogger(logger),
		facade.WithDebug(cfg.Server.Debug),
		facade.WithAdminSetupToken(cfg.Auth.AdminSetupToken),
	}

	var obsServer *observability.Server
	var obsErrCh <-chan error
	if cfg.Server.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.Server.MetricsAddr, store.ReadinessCheck(db, readinessTimeout))
		obsErrCh, err = obsServer.Start()
		if err != nil {
			closeTracker(tracker, cfg.Server.ShutdownTimeout, logger)
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		facadeOpts = append(facadeOpts, facade.WithMetrics(obsServer.Metrics()))
	}

	authFacade, err := facade.New(facade.Deps{
		Credentials: creds,
		Tokens:      tokens,
		Quota:       quota,
		Resets:      resets,
		Sessions:    tracker,
		Engine:      engine,
	}, facadeOpts...)
	if err != nil {
		shutdown(nil, obsServer, tracker, cfg.Server.ShutdownTimeout, logger)
		return err
	}

	apiServer, err := api.NewServer(cfg.Server.Addr, authFacade, api.WithLogger(logger))
	if err != nil {
		shutdown(nil, obsServer, tracker, cfg.Server.ShutdownTimeout, logger)
		return err
	}
	apiErrCh, err := apiServer.Start()
	if err != nil {
		shutdown(nil, obsServer, tracker, cfg.Server.ShutdownTimeout, logger)
		return err
	}
	logger.Info("chatgate ready", "addr", apiServer.Addr())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-apiErrCh:
		if ok && err != nil {
			runErr = oops.Code("API_SERVER_FAILED").Wrap(err)
		}
	case err, ok := <-obsErrCh:
		if ok && err != nil {
			runErr = oops.Code("OBSERVABILITY_SERVER_FAILED").Wrap(err)
		}
	}

	shutdown(apiServer, obsServer, tracker, cfg.Server.ShutdownTimeout, logger)
	return runErr
}

// shutdown stops the API first so no new chats reach the tracker, then
// drains the tracker, then stops the metrics endpoint.
func shutdown(apiServer *api.Server, obsServer *observability.Server, tracker *account.ChatSessionTracker, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if apiServer != nil {
		if err := apiServer.Stop(ctx); err != nil {
			logger.Warn("api server shutdown failed", "error", err)
		}
	}
	if err := tracker.Close(ctx); err != nil {
		logger.Warn("session tracker did not drain", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(ctx); err != nil {
			logger.Warn("observability server shutdown failed", "error", err)
		}
	}
	logger.Info("chatgate stopped")
}

func closeTracker(tracker *account.ChatSessionTracker, timeout time.Duration, logger *slog.Logger) {
	shutdown(nil, nil, tracker, timeout, logger)
}

// newRevoker returns the Redis revoker when redis.addr is set and the
// in-process one otherwise. The returned func releases the client.
func newRevoker(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (token.Revoker, func(), error) {
	if cfg.Addr == "" {
		logger.Warn("redis.addr is empty: token revocations are kept in process and lost on restart")
		return token.NewMemoryRevoker(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // ping error takes precedence
		return nil, nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Addr).Wrap(err)
	}
	closeFn := func() {
		if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			logger.Warn("close redis client failed", "error", err)
		}
	}
	return token.NewRedisRevoker(client), closeFn, nil
}

// newNotifier sends reset links through SES when email.from is set and
// logs them otherwise.
func newNotifier(ctx context.Context, cfg config.Config, logger *slog.Logger) (account.ResetNotifier, error) {
	if cfg.Email.From == "" {
		logger.Warn("email.from is empty: password reset links are logged, not sent")
		return notify.NewLogNotifier(logger), nil
	}
	n, err := notify.NewSESNotifier(ctx, notify.Settings{
		From:     cfg.Email.From,
		FromName: cfg.Email.FromName,
		Region:   cfg.Email.Region,
		BaseURL:  cfg.Email.BaseURL,
		TokenTTL: cfg.Auth.ResetTokenTTL,
	}, logger)
	if err != nil {
		return nil, err
	}
	return n, nil
}
