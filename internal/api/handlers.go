// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chatgate/chatgate/internal/account"
	"github.com/chatgate/chatgate/internal/facade"
)

// Request bodies. Validation tags cover shape only; the account package
// owns the domain rules.

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
	FullName string `json:"full_name" validate:"max=200"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type updateProfileRequest struct {
	FullName *string `json:"full_name" validate:"omitnil,max=200"`
}

type upgradeRequest struct {
	SubscriptionType string `json:"subscription_type" validate:"max=50"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required"`
}

type resetPasswordRequest struct {
	ResetToken  string `json:"reset_token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type chatRequest struct {
	Message string `json:"message" validate:"required"`
	ChatID  string `json:"chat_id" validate:"max=128"`
}

type adminSetupRequest struct {
	Email       string `json:"email" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type adminListQuery struct {
	Limit int `json:"limit" query:"limit" validate:"gte=0,lte=1000"`
}

// Response bodies.

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type userResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	User    *account.User `json:"user"`
}

type verifyResponse struct {
	Valid bool          `json:"valid"`
	User  *account.User `json:"user"`
}

type forgotPasswordResponse struct {
	Success bool `json:"success"`
	*facade.ResetRequestResult
}

type chatResponse struct {
	Success bool `json:"success"`
	*facade.ChatReply
}

type chatsResponse[T any] struct {
	Chats []T `json:"chats"`
}

type messagesResponse struct {
	Messages []*account.ChatMessage `json:"messages"`
}

type quotaResponse struct {
	Success bool               `json:"success"`
	Quota   facade.QuotaStatus `json:"quota"`
}

// bind decodes and validates the request body into dst.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return badRequest("Malformed request body")
	}
	return c.Validate(dst)
}

func (s *Server) register(c echo.Context) error {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.facade.Register(c.Request().Context(), facade.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.facade.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) forgotPassword(c echo.Context) error {
	var req forgotPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.facade.RequestPasswordReset(c.Request().Context(), req.Email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, forgotPasswordResponse{Success: true, ResetRequestResult: res})
}

func (s *Server) resetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.facade.ConfirmPasswordReset(c.Request().Context(), req.ResetToken, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, successResponse{Success: true, Message: "Password has been reset"})
}

func (s *Server) adminSetup(c echo.Context) error {
	var req adminSetupRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	setupToken := c.Request().Header.Get(HeaderAdminSetupToken)
	user, err := s.facade.AdminSetup(c.Request().Context(), setupToken, req.Email, req.NewPassword)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResponse{Success: true, User: user})
}

func (s *Server) getProfile(c echo.Context) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}
	user, err := s.facade.GetProfile(c.Request().Context(), claims)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

func (s *Server) updateProfile(c echo.Context) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}
	var req updateProfileRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := s.facade.UpdateProfile(c.Request().Context(), claims, account.ProfileUpdate{FullName: req.FullName})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

func (s *Server) upgrade(c echo.Context) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}
	var req upgradeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := s.facade.UpgradeToPremium(c.Request().Context(), claims, req.SubscriptionType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResponse{Success: true, Message: "Successfully upgraded to premium", User: user})
}

func (s *Server) chatLimit(c echo.Context) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}
	status, err := s.facade.GetQuota(c.Request().Context(), claims)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) verify(c echo.Context) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}
	user, err := s.facade.GetProfile(c.Request().Context(), claims)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, verifyResponse{Valid: true, User: user})
}

func (s *Server) logout(c echo.Context) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}
	if err := s.facade.Logout(c.Request().Context(), claims); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, successResponse{Success: true})
}

func (s *Server) listChats(c echo.Context) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}
	chats, err := s.facade.ListChats(c.Request().Context(), claims)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chatsResponse[*account.ChatSession]{Chats: chats})
}

func (s *Server) chatMessages(c echo.Context) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}
	messages, err := s.facade.GetChatMessages(c.Request().Context(), claims, c.Param("chat_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messagesResponse{Messages: messages})
}

func (s *Server) chat(c echo.Context) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}
	var req chatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	reply, err := s.facade.SendChatMessage(c.Request().Context(), claims, facade.ChatRequest{
		ChatID:  req.ChatID,
		Message: req.Message,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chatResponse{Success: true, ChatReply: reply})
}

func (s *Server) adminListChats(c echo.Context) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}
	var q adminListQuery
	if err := echo.QueryParamsBinder(c).Int("limit", &q.Limit).BindError(); err != nil {
		return badRequest("Invalid limit")
	}
	if err := c.Validate(&q); err != nil {
		return err
	}
	chats, err := s.facade.AdminListChats(c.Request().Context(), claims, q.Limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chatsResponse[*account.SessionOverview]{Chats: chats})
}

func (s *Server) adminChatMessages(c echo.Context) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}
	messages, err := s.facade.AdminGetChatMessages(c.Request().Context(), claims,
		c.QueryParam("user_id"), c.QueryParam("chat_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messagesResponse{Messages: messages})
}

func (s *Server) adminResetUsage(c echo.Context) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}
	status, err := s.facade.AdminResetUsage(c.Request().Context(), claims, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, quotaResponse{Success: true, Quota: status})
}

func (s *Server) adminResetFreeTrial(c echo.Context) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}
	status, err := s.facade.ResetFreeTrial(c.Request().Context(), claims, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, quotaResponse{Success: true, Quota: status})
}
