// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

// Package facade exposes the account, token and quota components as the
// operations a transport dispatches into, and maps every failure to an Error.
package facade

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatgate/chatgate/internal/account"
	"github.com/chatgate/chatgate/internal/observability"
	"github.com/chatgate/chatgate/internal/token"
	"github.com/chatgate/chatgate/pkg/errutil"
)

var tracer = otel.Tracer("chatgate/facade")

// Operation names used for spans, logs and metrics.
const (
	OpRegister             = "register"
	OpLogin                = "login"
	OpGetProfile           = "get_profile"
	OpUpdateProfile        = "update_profile"
	OpUpgradeToPremium     = "upgrade_to_premium"
	OpGetQuota             = "get_quota"
	OpRequestPasswordReset = "request_password_reset"
	OpConfirmPasswordReset = "confirm_password_reset"
	OpSendChatMessage      = "send_chat_message"
	OpVerifyToken          = "verify_token"
	OpLogout               = "logout"
	OpListChats            = "list_chats"
	OpGetChatMessages      = "get_chat_messages"
	OpAdminListChats       = "admin_list_chats"
	OpAdminGetChatMessages = "admin_get_chat_messages"
	OpAdminResetUsage      = "admin_reset_usage"
	OpResetFreeTrial       = "reset_free_trial"
	OpAdminSetup           = "admin_setup"
)

// MaxMessageLength bounds a chat prompt in bytes.
const MaxMessageLength = 16 * 1024

// TokenType is reported alongside issued tokens.
const TokenType = "bearer"

// ResetRequestedMessage is returned for every reset request, known email or not.
const ResetRequestedMessage = "If the email exists, a reset link has been sent."

// Credentials is the part of account.CredentialStore the facade uses.
type Credentials interface {
	CreateUser(ctx context.Context, email, password, fullName string) (*account.User, error)
	Authenticate(ctx context.Context, email, password string) (*account.User, error)
	GetUser(ctx context.Context, id ulid.ULID) (*account.User, error)
	UpdateProfile(ctx context.Context, id ulid.ULID, update account.ProfileUpdate) (*account.User, error)
	SetPremium(ctx context.Context, id ulid.ULID, tier string) (*account.User, error)
	SetPasswordAndAdmin(ctx context.Context, email, password string) (*account.User, error)
}

// Tokens is the part of token.Service the facade uses.
type Tokens interface {
	Issue(userID ulid.ULID) (token.Token, error)
	Verify(ctx context.Context, raw string) (token.Claims, error)
	Revoke(ctx context.Context, claims token.Claims) error
}

// Quota is the part of account.QuotaEnforcer the facade uses.
type Quota interface {
	CheckAndConsume(ctx context.Context, userID ulid.ULID) (account.Decision, error)
	Remaining(ctx context.Context, userID ulid.ULID) (account.Usage, error)
	ResetUsage(ctx context.Context, userID ulid.ULID) error
	ResetFreeTrial(ctx context.Context, userID ulid.ULID) error
}

// Resets is the part of account.PasswordResetFlow the facade uses.
type Resets interface {
	RequestReset(ctx context.Context, email string) (string, error)
	ConfirmReset(ctx context.Context, token, newPassword string) error
}

// Sessions is the part of account.ChatSessionTracker the facade uses.
type Sessions interface {
	RecordMessage(ctx context.Context, userID ulid.ULID, chatID string, turn account.ChatTurn)
	ListSessions(ctx context.Context, userID ulid.ULID) ([]*account.ChatSession, error)
	ListAllSessions(ctx context.Context, limit int) ([]*account.SessionOverview, error)
	ListMessages(ctx context.Context, userID ulid.ULID, chatID string) ([]*account.ChatMessage, error)
}

// ChatEngine produces a reply to prompt within the conversation chatID.
type ChatEngine interface {
	Respond(ctx context.Context, chatID, prompt string) (string, error)
}

// Deps are the components the facade composes. All are required.
type Deps struct {
	Credentials Credentials
	Tokens      Tokens
	Quota       Quota
	Resets      Resets
	Sessions    Sessions
	Engine      ChatEngine
}

// AuthFacade is the single entry point of the transport layer.
type AuthFacade struct {
	deps            Deps
	logger          *slog.Logger
	metrics         *observability.Metrics
	debug           bool
	adminSetupToken string
	newChatID       func() string
	now             func() time.Time
}

// Option configures an AuthFacade.
type Option func(*AuthFacade)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(f *AuthFacade) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics records operation outcomes on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *AuthFacade) { f.metrics = m }
}

// WithDebug echoes reset tokens to the caller and lets admin setup run
// without a setup token. Never enable it in production.
func WithDebug(debug bool) Option {
	return func(f *AuthFacade) { f.debug = debug }
}

// WithAdminSetupToken sets the shared secret required by AdminSetup.
// An empty token disables AdminSetup outside debug mode.
func WithAdminSetupToken(setupToken string) Option {
	return func(f *AuthFacade) { f.adminSetupToken = setupToken }
}

// WithChatIDGenerator overrides the generator used when a chat request
// carries no chat id.
func WithChatIDGenerator(gen func() string) Option {
	return func(f *AuthFacade) {
		if gen != nil {
			f.newChatID = gen
		}
	}
}

// WithClock overrides time.Now for response timing.
func WithClock(now func() time.Time) Option {
	return func(f *AuthFacade) {
		if now != nil {
			f.now = now
		}
	}
}

// New creates an AuthFacade.
func New(deps Deps, opts ...Option) (*AuthFacade, error) {
	switch {
	case deps.Credentials == nil:
		return nil, oops.Errorf("credential store is required")
	case deps.Tokens == nil:
		return nil, oops.Errorf("token service is required")
	case deps.Quota == nil:
		return nil, oops.Errorf("quota enforcer is required")
	case deps.Resets == nil:
		return nil, oops.Errorf("password reset flow is required")
	case deps.Sessions == nil:
		return nil, oops.Errorf("session tracker is required")
	case deps.Engine == nil:
		return nil, oops.Errorf("chat engine is required")
	}

	f := &AuthFacade{
		deps:      deps,
		logger:    slog.Default(),
		newChatID: uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// RegisterRequest carries the sign-up fields.
type RegisterRequest struct {
	Email    string
	Password string
	FullName string
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User        *account.User `json:"user"`
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// QuotaStatus is the client view of a user's chat allowance.
// RemainingChats is -1 for premium users.
type QuotaStatus struct {
	CanChat          bool   `json:"can_chat"`
	ChatCount        int    `json:"chat_count"`
	MaxChats         int    `json:"max_chats"`
	RemainingChats   int    `json:"remaining_chats"`
	IsPremium        bool   `json:"is_premium"`
	SubscriptionType string `json:"subscription_type"`
}

func quotaStatus(u account.Usage) QuotaStatus {
	remaining := u.Remaining()
	return QuotaStatus{
		CanChat:          u.IsPremium || remaining > 0,
		ChatCount:        u.Used,
		MaxChats:         u.Limit,
		RemainingChats:   remaining,
		IsPremium:        u.IsPremium,
		SubscriptionType: u.SubscriptionType,
	}
}

// ResetRequestResult acknowledges a reset request. ResetToken is only set
// in debug mode.
type ResetRequestResult struct {
	Message    string `json:"message"`
	ResetToken string `json:"reset_token,omitempty"`
}

// ChatRequest is one user message. An empty ChatID starts a new conversation.
type ChatRequest struct {
	ChatID  string
	Message string
}

// ChatReply is the engine's answer together with the quota after admission.
type ChatReply struct {
	Response     string      `json:"response"`
	ChatID       string      `json:"chat_id"`
	ResponseTime float64     `json:"response_time"`
	Quota        QuotaStatus `json:"quota"`
}

// begin opens the span for op. The returned function closes it and turns err
// into an *Error, recording the outcome in logs and metrics.
func (f *AuthFacade) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err error, sc scope) error) {
	ctx, span := tracer.Start(ctx, "facade."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error, sc scope) error {
		defer span.End()
		if err == nil {
			f.countRequest(op, "OK")
			return nil
		}

		fe := mapError(err, sc)
		span.RecordError(err)
		span.SetStatus(codes.Error, fe.Code)
		span.SetAttributes(attribute.String("chatgate.error_code", fe.Code))
		f.countRequest(op, fe.Code)

		if fe.Status >= 500 {
			errutil.LogErrorContext(ctx, f.logger.With("operation", op), "operation failed", err)
		} else {
			f.logger.InfoContext(ctx, "operation rejected",
				"operation", op,
				"code", fe.Code,
				"cause_code", errutil.Code(err))
		}
		return fe
	}
}

func (f *AuthFacade) countRequest(op, code string) {
	if f.metrics != nil {
		f.metrics.RequestsTotal.WithLabelValues(op, code).Inc()
	}
}

func (f *AuthFacade) countAuth(op string, err error) {
	if f.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = mapError(err, scopeLogin).Code
	}
	f.metrics.AuthOutcomes.WithLabelValues(op, outcome).Inc()
}

// issue signs a token for user and builds the AuthResult.
func (f *AuthFacade) issue(user *account.User) (*AuthResult, error) {
	tok, err := f.deps.Tokens.Issue(user.ID)
	if err != nil {
		return nil, oops.With("operation", "issue token").With("user_id", user.ID.String()).Wrap(err)
	}
	return &AuthResult{User: user, AccessToken: tok.Value, TokenType: TokenType, ExpiresAt: tok.ExpiresAt}, nil
}

// Register creates an account and signs the caller in.
func (f *AuthFacade) Register(ctx context.Context, req RegisterRequest) (res *AuthResult, err error) {
	ctx, end := f.begin(ctx, OpRegister)
	defer func() {
		f.countAuth(OpRegister, err)
		err = end(err, scopePublic)
	}()

	user, err := f.deps.Credentials.CreateUser(ctx, req.Email, req.Password, req.FullName)
	if err != nil {
		return nil, err
	}
	return f.issue(user)
}

// Login verifies credentials and issues a token. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (f *AuthFacade) Login(ctx context.Context, email, password string) (res *AuthResult, err error) {
	ctx, end := f.begin(ctx, OpLogin)
	defer func() {
		f.countAuth(OpLogin, err)
		err = end(err, scopeLogin)
	}()

	user, err := f.deps.Credentials.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return f.issue(user)
}

// VerifyToken checks a bearer token and returns its claims.
func (f *AuthFacade) VerifyToken(ctx context.Context, raw string) (claims token.Claims, err error) {
	ctx, end := f.begin(ctx, OpVerifyToken)
	defer func() {
		f.countAuth(OpVerifyToken, err)
		err = end(err, scopeToken)
	}()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return token.Claims{}, oops.Code(token.CodeTokenInvalid).With("reason", "empty").Wrap(token.ErrTokenInvalid)
	}
	claims, err = f.deps.Tokens.Verify(ctx, raw)
	if err != nil {
		return token.Claims{}, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("user.id", claims.UserID.String()))
	return claims, nil
}

// GetProfile returns the caller's account.
func (f *AuthFacade) GetProfile(ctx context.Context, claims token.Claims) (user *account.User, err error) {
	ctx, end := f.begin(ctx, OpGetProfile, userAttr(claims))
	defer func() { err = end(err, scopeToken) }()

	return f.deps.Credentials.GetUser(ctx, claims.UserID)
}

// UpdateProfile changes the caller's mutable profile fields.
func (f *AuthFacade) UpdateProfile(ctx context.Context, claims token.Claims, update account.ProfileUpdate) (user *account.User, err error) {
	ctx, end := f.begin(ctx, OpUpdateProfile, userAttr(claims))
	defer func() { err = end(err, scopeToken) }()

	return f.deps.Credentials.UpdateProfile(ctx, claims.UserID, update)
}

// UpgradeToPremium grants the caller the premium entitlement under tier.
// An empty tier means account.TierPremium. The admin tier cannot be bought,
// and an admin caller keeps it.
func (f *AuthFacade) UpgradeToPremium(ctx context.Context, claims token.Claims, tier string) (user *account.User, err error) {
	ctx, end := f.begin(ctx, OpUpgradeToPremium, userAttr(claims))
	defer func() { err = end(err, scopeToken) }()

	if strings.EqualFold(strings.TrimSpace(tier), account.TierAdmin) {
		return nil, oops.Code(CodeForbidden).With("tier", tier).Wrap(ErrForbidden)
	}
	return f.deps.Credentials.SetPremium(ctx, claims.UserID, tier)
}

// GetQuota reports the caller's chat allowance without consuming any.
func (f *AuthFacade) GetQuota(ctx context.Context, claims token.Claims) (status QuotaStatus, err error) {
	ctx, end := f.begin(ctx, OpGetQuota, userAttr(claims))
	defer func() { err = end(err, scopeToken) }()

	usage, err := f.deps.Quota.Remaining(ctx, claims.UserID)
	if err != nil {
		return QuotaStatus{}, err
	}
	return quotaStatus(usage), nil
}

// RequestPasswordReset starts a reset for email. The result is the same
// whether or not the email is registered.
func (f *AuthFacade) RequestPasswordReset(ctx context.Context, email string) (res *ResetRequestResult, err error) {
	ctx, end := f.begin(ctx, OpRequestPasswordReset)
	defer func() { err = end(err, scopePublic) }()

	resetToken, err := f.deps.Resets.RequestReset(ctx, email)
	if err != nil {
		return nil, err
	}
	res = &ResetRequestResult{Message: ResetRequestedMessage}
	if f.debug {
		res.ResetToken = resetToken
	}
	return res, nil
}

// ConfirmPasswordReset sets a new password using a reset token.
func (f *AuthFacade) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) (err error) {
	ctx, end := f.begin(ctx, OpConfirmPasswordReset)
	defer func() { err = end(err, scopePublic) }()

	return f.deps.Resets.ConfirmReset(ctx, resetToken, newPassword)
}

// SendChatMessage admits one chat against the caller's quota, asks the chat
// engine for a reply and records the message in the chat session. A chat
// admitted but failed by the engine still counts against the quota.
func (f *AuthFacade) SendChatMessage(ctx context.Context, claims token.Claims, req ChatRequest) (reply *ChatReply, err error) {
	ctx, end := f.begin(ctx, OpSendChatMessage, userAttr(claims))
	defer func() { err = end(err, scopeToken) }()

	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" {
		chatID = f.newChatID()
	}
	if err := account.ValidateChatID(chatID); err != nil {
		return nil, err
	}
	prompt := strings.TrimSpace(req.Message)
	if prompt == "" {
		return nil, invalidInput("message", "message is required")
	}
	if len(prompt) > MaxMessageLength {
		return nil, invalidInput("message", "message exceeds %d bytes", MaxMessageLength)
	}
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("chat.id", chatID))

	decision, err := f.deps.Quota.CheckAndConsume(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		f.countQuota("denied")
		return nil, oops.Code(CodeQuotaExceeded).
			With("user_id", claims.UserID.String()).
			With("used", decision.Usage.Used).
			With("limit", decision.Usage.Limit).
			Wrap(ErrQuotaExceeded)
	}
	f.countQuota("allowed")

	start := f.now()
	text, err := f.deps.Engine.Respond(ctx, chatID, prompt)
	elapsed := f.now().Sub(start)
	if err != nil {
		f.observeEngine("failure", elapsed)
		return nil, oops.Code(CodeChatEngineFailed).
			With("user_id", claims.UserID.String()).
			With("chat_id", chatID).
			Wrap(fmt.Errorf("%w: %w", ErrChatEngine, err))
	}
	f.observeEngine("success", elapsed)

	f.deps.Sessions.RecordMessage(ctx, claims.UserID, chatID, account.ChatTurn{Question: prompt, Response: text})

	f.logger.InfoContext(ctx, "chat message served",
		"user_id", claims.UserID.String(),
		"chat_id", chatID,
		"duration", elapsed)
	return &ChatReply{
		Response:     text,
		ChatID:       chatID,
		ResponseTime: elapsed.Seconds(),
		Quota:        quotaStatus(decision.Usage),
	}, nil
}

func (f *AuthFacade) countQuota(decision string) {
	if f.metrics != nil {
		f.metrics.QuotaDecisions.WithLabelValues(decision).Inc()
	}
}

func (f *AuthFacade) observeEngine(outcome string, elapsed time.Duration) {
	if f.metrics != nil {
		f.metrics.ChatEngineDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	}
}

// Logout revokes the caller's token for the rest of its lifetime.
func (f *AuthFacade) Logout(ctx context.Context, claims token.Claims) (err error) {
	ctx, end := f.begin(ctx, OpLogout, userAttr(claims))
	defer func() { err = end(err, scopeToken) }()

	return f.deps.Tokens.Revoke(ctx, claims)
}

// ListChats returns the caller's chat sessions, most recent first.
func (f *AuthFacade) ListChats(ctx context.Context, claims token.Claims) (sessions []*account.ChatSession, err error) {
	ctx, end := f.begin(ctx, OpListChats, userAttr(claims))
	defer func() { err = end(err, scopeToken) }()

	return f.deps.Sessions.ListSessions(ctx, claims.UserID)
}

// GetChatMessages returns the turns of one of the caller's chats, oldest
// first. A chat the caller never used reads as empty.
func (f *AuthFacade) GetChatMessages(ctx context.Context, claims token.Claims, chatID string) (messages []*account.ChatMessage, err error) {
	ctx, end := f.begin(ctx, OpGetChatMessages, userAttr(claims))
	defer func() { err = end(err, scopeToken) }()

	return f.deps.Sessions.ListMessages(ctx, claims.UserID, strings.TrimSpace(chatID))
}

// AdminListChats returns up to limit sessions across all users.
func (f *AuthFacade) AdminListChats(ctx context.Context, claims token.Claims, limit int) (sessions []*account.SessionOverview, err error) {
	ctx, end := f.begin(ctx, OpAdminListChats, userAttr(claims))
	defer func() { err = end(err, scopeAdmin) }()

	if err := f.requireAdmin(ctx, claims); err != nil {
		return nil, err
	}
	return f.deps.Sessions.ListAllSessions(ctx, limit)
}

// AdminGetChatMessages returns the turns of userID's chat chatID.
func (f *AuthFacade) AdminGetChatMessages(ctx context.Context, claims token.Claims, userID, chatID string) (messages []*account.ChatMessage, err error) {
	ctx, end := f.begin(ctx, OpAdminGetChatMessages, userAttr(claims))
	defer func() { err = end(err, scopeAdmin) }()

	if err := f.requireAdmin(ctx, claims); err != nil {
		return nil, err
	}
	target, err := ulid.Parse(strings.TrimSpace(userID))
	if err != nil {
		return nil, invalidInput("user_id", "user id is malformed")
	}
	return f.deps.Sessions.ListMessages(ctx, target, strings.TrimSpace(chatID))
}

// AdminResetUsage zeroes the chat counter of userID.
func (f *AuthFacade) AdminResetUsage(ctx context.Context, claims token.Claims, userID string) (status QuotaStatus, err error) {
	ctx, end := f.begin(ctx, OpAdminResetUsage, userAttr(claims))
	defer func() { err = end(err, scopeAdmin) }()

	return f.adminQuotaOp(ctx, claims, userID, f.deps.Quota.ResetUsage)
}

// ResetFreeTrial returns userID to a fresh free trial.
func (f *AuthFacade) ResetFreeTrial(ctx context.Context, claims token.Claims, userID string) (status QuotaStatus, err error) {
	ctx, end := f.begin(ctx, OpResetFreeTrial, userAttr(claims))
	defer func() { err = end(err, scopeAdmin) }()

	return f.adminQuotaOp(ctx, claims, userID, f.deps.Quota.ResetFreeTrial)
}

func (f *AuthFacade) adminQuotaOp(
	ctx context.Context,
	claims token.Claims,
	rawID string,
	op func(context.Context, ulid.ULID) error,
) (QuotaStatus, error) {
	if err := f.requireAdmin(ctx, claims); err != nil {
		return QuotaStatus{}, err
	}
	target, err := ulid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return QuotaStatus{}, invalidInput("user_id", "user id is malformed")
	}
	if err := op(ctx, target); err != nil {
		return QuotaStatus{}, err
	}
	usage, err := f.deps.Quota.Remaining(ctx, target)
	if err != nil {
		return QuotaStatus{}, err
	}

	f.logger.InfoContext(ctx, "quota reset by admin",
		"admin_id", claims.UserID.String(),
		"user_id", target.String())
	return quotaStatus(usage), nil
}

// AdminSetup sets the password of the account registered under email and
// grants it the admin tier. setupToken must match the configured admin
// setup token unless debug mode is on.
func (f *AuthFacade) AdminSetup(ctx context.Context, setupToken, email, newPassword string) (user *account.User, err error) {
	ctx, end := f.begin(ctx, OpAdminSetup)
	defer func() { err = end(err, scopeAdmin) }()

	if !f.debug {
		if f.adminSetupToken == "" ||
			subtle.ConstantTimeCompare([]byte(setupToken), []byte(f.adminSetupToken)) != 1 {
			return nil, oops.Code(CodeForbidden).With("reason", "setup token mismatch").Wrap(ErrForbidden)
		}
	}

	user, err = f.deps.Credentials.SetPasswordAndAdmin(ctx, email, newPassword)
	if err != nil {
		return nil, err
	}
	f.logger.WarnContext(ctx, "admin account configured", "user_id", user.ID.String())
	return user, nil
}

// requireAdmin fails unless the caller holds the admin tier. Its errors are
// already mapped, so a caller whose account vanished sees TOKEN_INVALID
// rather than USER_NOT_FOUND.
func (f *AuthFacade) requireAdmin(ctx context.Context, claims token.Claims) error {
	caller, err := f.deps.Credentials.GetUser(ctx, claims.UserID)
	if err != nil {
		return mapError(err, scopeToken)
	}
	if !caller.IsAdmin() {
		return mapError(oops.Code(CodeForbidden).
			With("user_id", claims.UserID.String()).
			With("reason", "not an admin").
			Wrap(ErrForbidden), scopeAdmin)
	}
	return nil
}

func userAttr(claims token.Claims) attribute.KeyValue {
	return attribute.String("user.id", claims.UserID.String())
}
