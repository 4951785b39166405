// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

// Package chatengine is the HTTP client of the LLM-backed chat engine.
package chatengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
)

// RespondPath is the engine endpoint that answers one prompt.
const RespondPath = "/v1/respond"

// maxResponseBytes bounds how much of an engine reply is read.
const maxResponseBytes = 1 << 20

// ErrEngine is wrapped by every failure to obtain a reply.
var ErrEngine = errors.New("chat engine failed")

type respondRequest struct {
	ChatID string `json:"chat_id"`
	Prompt string `json:"prompt"`
}

type respondResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// HTTPEngine calls a chat engine over JSON/HTTP.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEngine creates an engine client. timeout bounds each call.
func NewHTTPEngine(baseURL string, timeout time.Duration) (*HTTPEngine, error) {
	if baseURL == "" {
		return nil, oops.Code("CHAT_ENGINE_CONFIG_INVALID").Errorf("chat engine url is required")
	}
	if timeout <= 0 {
		return nil, oops.Code("CHAT_ENGINE_CONFIG_INVALID").With("timeout", timeout).Errorf("chat engine timeout must be positive")
	}
	return &HTTPEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Respond sends prompt within chatID and returns the engine's reply.
func (e *HTTPEngine) Respond(ctx context.Context, chatID, prompt string) (string, error) {
	body, err := json.Marshal(respondRequest{ChatID: chatID, Prompt: prompt})
	if err != nil {
		return "", oops.Code("CHAT_ENGINE_FAILED").Wrap(errors.Join(ErrEngine, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+RespondPath, bytes.NewReader(body))
	if err != nil {
		return "", oops.Code("CHAT_ENGINE_FAILED").Wrap(errors.Join(ErrEngine, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", oops.Code("CHAT_ENGINE_FAILED").With("chat_id", chatID).Wrap(errors.Join(ErrEngine, err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", oops.Code("CHAT_ENGINE_FAILED").With("chat_id", chatID).Wrap(errors.Join(ErrEngine, err))
	}

	var out respondResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK {
		detail := out.Error
		if decodeErr != nil || detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return "", oops.Code("CHAT_ENGINE_FAILED").
			With("chat_id", chatID).
			With("status", resp.StatusCode).
			Wrap(fmt.Errorf("%w: %s", ErrEngine, detail))
	}
	if decodeErr != nil {
		return "", oops.Code("CHAT_ENGINE_FAILED").With("chat_id", chatID).Wrap(errors.Join(ErrEngine, decodeErr))
	}
	if out.Error != "" {
		return "", oops.Code("CHAT_ENGINE_FAILED").With("chat_id", chatID).Wrap(fmt.Errorf("%w: %s", ErrEngine, out.Error))
	}
	return out.Response, nil
}
