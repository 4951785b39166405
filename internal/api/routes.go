// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package api

import (
	"errors"
	"net/http"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/chatgate/chatgate/internal/facade"
	"github.com/chatgate/chatgate/internal/token"
)

// HeaderAdminSetupToken carries the shared secret of POST /admin/setup.
const HeaderAdminSetupToken = "X-Admin-Setup-Token"

// claimsKey is the echo context key of the verified token claims.
const claimsKey = "claims"

func (s *Server) registerRoutes() {
	e := s.echo
	requireAuth := s.authMiddleware()

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.POST("/auth/register", s.register)
	e.POST("/auth/signup", s.register)
	e.POST("/auth/login", s.login)
	e.POST("/auth/signin", s.login)
	e.POST("/auth/password/forgot", s.forgotPassword)
	e.POST("/auth/password/reset", s.resetPassword)
	e.POST("/admin/setup", s.adminSetup)

	// Route-level middleware keeps unknown paths a 404 rather than a 401.
	e.GET("/auth/profile", s.getProfile, requireAuth)
	e.PUT("/auth/profile", s.updateProfile, requireAuth)
	e.POST("/auth/upgrade", s.upgrade, requireAuth)
	e.GET("/auth/chat-limit", s.chatLimit, requireAuth)
	e.GET("/auth/verify", s.verify, requireAuth)
	e.POST("/auth/logout", s.logout, requireAuth)
	e.GET("/auth/chats", s.listChats, requireAuth)
	e.GET("/auth/chats/:chat_id", s.chatMessages, requireAuth)
	e.POST("/chat", s.chat, requireAuth)

	e.GET("/admin/chats", s.adminListChats, requireAuth)
	e.GET("/admin/chat-messages", s.adminChatMessages, requireAuth)
	e.POST("/admin/users/:id/reset-usage", s.adminResetUsage, requireAuth)
	e.POST("/admin/users/:id/reset-free-trial", s.adminResetFreeTrial, requireAuth)
}

// authMiddleware verifies the bearer token through the facade and stores
// the claims under claimsKey.
func (s *Server) authMiddleware() echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey:  claimsKey,
		TokenLookup: "header:" + echo.HeaderAuthorization + ":Bearer ",
		ParseTokenFunc: func(c echo.Context, auth string) (any, error) {
			return s.facade.VerifyToken(c.Request().Context(), auth)
		},
		ErrorHandler: func(_ echo.Context, err error) error {
			var fe *facade.Error
			if errors.As(err, &fe) {
				return fe
			}
			return &facade.Error{
				Code:    facade.CodeTokenInvalid,
				Message: "Missing bearer token",
				Status:  http.StatusUnauthorized,
			}
		},
	})
}

// claimsFrom returns the claims stored by authMiddleware.
func claimsFrom(c echo.Context) (token.Claims, error) {
	claims, ok := c.Get(claimsKey).(token.Claims)
	if !ok {
		return token.Claims{}, &facade.Error{
			Code:    facade.CodeTokenInvalid,
			Message: "Missing bearer token",
			Status:  http.StatusUnauthorized,
		}
	}
	return claims, nil
}
