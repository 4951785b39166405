// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

// Package api is the HTTP boundary: it decodes JSON requests, dispatches
// them into the facade and renders facade errors.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/oops"

	"github.com/chatgate/chatgate/internal/account"
	"github.com/chatgate/chatgate/internal/facade"
	"github.com/chatgate/chatgate/internal/token"
)

// Facade is the set of operations the HTTP routes dispatch into.
type Facade interface {
	Register(ctx context.Context, req facade.RegisterRequest) (*facade.AuthResult, error)
	Login(ctx context.Context, email, password string) (*facade.AuthResult, error)
	VerifyToken(ctx context.Context, raw string) (token.Claims, error)
	GetProfile(ctx context.Context, claims token.Claims) (*account.User, error)
	UpdateProfile(ctx context.Context, claims token.Claims, update account.ProfileUpdate) (*account.User, error)
	UpgradeToPremium(ctx context.Context, claims token.Claims, tier string) (*account.User, error)
	GetQuota(ctx context.Context, claims token.Claims) (facade.QuotaStatus, error)
	RequestPasswordReset(ctx context.Context, email string) (*facade.ResetRequestResult, error)
	ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error
	SendChatMessage(ctx context.Context, claims token.Claims, req facade.ChatRequest) (*facade.ChatReply, error)
	Logout(ctx context.Context, claims token.Claims) error
	ListChats(ctx context.Context, claims token.Claims) ([]*account.ChatSession, error)
	GetChatMessages(ctx context.Context, claims token.Claims, chatID string) ([]*account.ChatMessage, error)
	AdminListChats(ctx context.Context, claims token.Claims, limit int) ([]*account.SessionOverview, error)
	AdminGetChatMessages(ctx context.Context, claims token.Claims, userID, chatID string) ([]*account.ChatMessage, error)
	AdminResetUsage(ctx context.Context, claims token.Claims, userID string) (facade.QuotaStatus, error)
	ResetFreeTrial(ctx context.Context, claims token.Claims, userID string) (facade.QuotaStatus, error)
	AdminSetup(ctx context.Context, setupToken, email, newPassword string) (*account.User, error)
}

// DefaultBodyLimit caps request bodies.
const DefaultBodyLimit = "64K"

// Server serves the chatgate HTTP API.
type Server struct {
	addr       string
	echo       *echo.Echo
	facade     Facade
	logger     *slog.Logger
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a Server listening on addr once started.
func NewServer(addr string, f Facade, opts ...Option) (*Server, error) {
	if f == nil {
		return nil, oops.Errorf("facade is required")
	}

	s := &Server{
		addr:   addr,
		facade: f,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(DefaultBodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.InfoContext(c.Request().Context(), "http request",
				"method", v.Method,
				"path", v.URIPath,
				"route", v.RoutePath,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID)
			return nil
		},
	}))

	s.echo = e
	s.registerRoutes()
	return s, nil
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins serving. The returned channel receives a serve error, if
// any, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("API_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server, waiting for in-flight requests
// until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_api_server").Wrap(err)
		}
	}
	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
