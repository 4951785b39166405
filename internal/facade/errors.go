// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package facade

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/samber/oops"

	"github.com/chatgate/chatgate/internal/account"
	"github.com/chatgate/chatgate/internal/token"
)

// Error codes raised by the facade itself.
const (
	CodeQuotaExceeded    = "QUOTA_EXCEEDED"
	CodeForbidden        = "FORBIDDEN"
	CodeChatEngineFailed = "CHAT_ENGINE_FAILED"
)

// Boundary codes reported to clients in Error.Code.
const (
	CodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	CodeInvalidCredentials     = "AUTH_INVALID_CREDENTIALS"
	CodeTokenInvalid           = "TOKEN_INVALID"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeResetTokenInvalid      = "RESET_TOKEN_INVALID"
	CodeResetTokenExpired      = "RESET_TOKEN_EXPIRED"
	CodeUserNotFound           = "USER_NOT_FOUND"
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
	CodeRevocationUnavailable  = token.CodeRevocationUnavailable
	CodeChatUnavailable        = "CHAT_UNAVAILABLE"
	CodeInternal               = "INTERNAL_ERROR"
)

var (
	// ErrQuotaExceeded is returned when a free-trial user has no chats left.
	ErrQuotaExceeded = errors.New("chat quota exceeded")

	// ErrForbidden is returned when the caller lacks the admin tier or the
	// admin setup token does not match.
	ErrForbidden = errors.New("forbidden")

	// ErrChatEngine is returned when the chat engine fails after admission.
	ErrChatEngine = errors.New("chat engine failed")
)

// Error is the client-facing form of every facade failure. Message is
// generic; the wrapped cause is only ever logged.
type Error struct {
	Code    string
	Message string
	Status  int
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// scope selects how a missing user is reported. The same ErrNotFound means
// bad credentials at login, a dangling token after authentication, and a
// bad target id for admin operations.
type scope int

const (
	scopePublic scope = iota
	scopeLogin
	scopeToken
	scopeAdmin
)

func newError(status int, code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Status: status, cause: cause}
}

// mapError classifies err into an *Error. An *Error passes through unchanged.
func mapError(err error, sc scope) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	switch {
	case errors.Is(err, ErrChatEngine):
		return newError(http.StatusBadGateway, CodeChatUnavailable, "The chat service is temporarily unavailable", err)
	case errors.Is(err, ErrQuotaExceeded):
		return newError(http.StatusTooManyRequests, CodeQuotaExceeded,
			"Chat limit reached. Upgrade to premium for unlimited chats", err)
	case errors.Is(err, ErrForbidden):
		return newError(http.StatusForbidden, CodeForbidden, "Forbidden", err)
	case errors.Is(err, account.ErrDuplicateEmail):
		return newError(http.StatusConflict, CodeEmailAlreadyRegistered, "Email already registered", err)
	case errors.Is(err, account.ErrInvalidCredential):
		return newError(http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password", err)
	case errors.Is(err, account.ErrNotFound):
		return notFoundError(err, sc)
	case errors.Is(err, token.ErrTokenExpired):
		return newError(http.StatusUnauthorized, CodeTokenExpired, "Token has expired", err)
	case errors.Is(err, token.ErrTokenInvalid):
		return newError(http.StatusUnauthorized, CodeTokenInvalid, "Invalid token", err)
	case errors.Is(err, token.ErrRevocationUnavailable):
		return newError(http.StatusServiceUnavailable, CodeRevocationUnavailable, "Service temporarily unavailable", err)
	case errors.Is(err, account.ErrDatastoreUnavailable):
		return newError(http.StatusServiceUnavailable, CodeServiceUnavailable, "Service temporarily unavailable", err)
	case errors.Is(err, account.ErrResetTokenExpired):
		return newError(http.StatusBadRequest, CodeResetTokenExpired, "Reset token has expired", err)
	case errors.Is(err, account.ErrResetTokenInvalid):
		return newError(http.StatusBadRequest, CodeResetTokenInvalid, "Invalid or expired reset token", err)
	case errors.Is(err, account.ErrInvalidInput):
		return newError(http.StatusBadRequest, CodeInvalidRequest, invalidInputMessage(err), err)
	default:
		return newError(http.StatusInternalServerError, CodeInternal, "Internal server error", err)
	}
}

func notFoundError(err error, sc scope) *Error {
	switch sc {
	case scopeLogin:
		return newError(http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password", err)
	case scopeToken:
		return newError(http.StatusUnauthorized, CodeTokenInvalid, "Invalid token", err)
	default:
		return newError(http.StatusNotFound, CodeUserNotFound, "User not found", err)
	}
}

// invalidInputMessage names the offending field when the validator recorded one.
func invalidInputMessage(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if field, ok := oopsErr.Context()["field"].(string); ok && field != "" {
			return "Invalid " + field
		}
	}
	return "Invalid request"
}

// invalidInput builds an ACCOUNT_INVALID_INPUT error for field.
func invalidInput(field, format string, args ...any) error {
	return oops.Code(account.CodeInvalidInput).With("field", field).Wrapf(account.ErrInvalidInput, format, args...)
}

// AsError extracts the *Error from err, classifying unknown errors as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	return mapError(err, scopePublic)
}
