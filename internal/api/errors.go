// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chatgate/chatgate/internal/facade"
	"github.com/chatgate/chatgate/pkg/errutil"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail carries the boundary code and a generic message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Codes for failures raised by the HTTP layer itself.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeRequestTooLarge  = "REQUEST_TOO_LARGE"
)

// handleError is the echo HTTPErrorHandler.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	fe := s.toFacadeError(c, err)
	if fe.Status == http.StatusUnauthorized {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="chatgate"`)
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(fe.Status)
	} else {
		writeErr = c.JSON(fe.Status, ErrorBody{Error: ErrorDetail{Code: fe.Code, Message: fe.Message}})
	}
	if writeErr != nil {
		s.logger.WarnContext(c.Request().Context(), "write error response failed",
			"operation", "write_error",
			"error", writeErr)
	}
}

func (s *Server) toFacadeError(c echo.Context, err error) *facade.Error {
	var fe *facade.Error
	if errors.As(err, &fe) {
		return fe
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return fromHTTPError(he)
	}

	errutil.LogErrorContext(c.Request().Context(), s.logger, "unhandled api error", err)
	return &facade.Error{Code: facade.CodeInternal, Message: "Internal server error", Status: http.StatusInternalServerError}
}

func fromHTTPError(he *echo.HTTPError) *facade.Error {
	message := http.StatusText(he.Code)
	if m, ok := he.Message.(string); ok && m != "" {
		message = m
	}

	code := facade.CodeInternal
	switch he.Code {
	case http.StatusBadRequest:
		code = facade.CodeInvalidRequest
	case http.StatusUnauthorized:
		code = facade.CodeTokenInvalid
	case http.StatusForbidden:
		code = facade.CodeForbidden
	case http.StatusNotFound:
		code = CodeNotFound
	case http.StatusMethodNotAllowed:
		code = CodeMethodNotAllowed
	case http.StatusRequestEntityTooLarge:
		code = CodeRequestTooLarge
	case http.StatusServiceUnavailable:
		code = facade.CodeServiceUnavailable
	default:
		if he.Code < http.StatusInternalServerError {
			code = fmt.Sprintf("HTTP_%d", he.Code)
		} else {
			message = "Internal server error"
		}
	}
	return &facade.Error{Code: code, Message: message, Status: he.Code}
}

// badRequest reports an undecodable request.
func badRequest(message string) *facade.Error {
	return &facade.Error{Code: facade.CodeInvalidRequest, Message: message, Status: http.StatusBadRequest}
}
