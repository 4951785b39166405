// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package chatengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatgate/chatgate/pkg/errutil"
)

func TestNewHTTPEngine_Validation(t *testing.T) {
	_, err := NewHTTPEngine("", time.Second)
	require.Error(t, err)
	_, err = NewHTTPEngine("http://engine", 0)
	require.Error(t, err)
}

func TestHTTPEngine_Respond(t *testing.T) {
	var got respondRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, RespondPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(respondResponse{Response: "42 goals"})
	}))
	defer srv.Close()

	e, err := NewHTTPEngine(srv.URL+"/", time.Second)
	require.NoError(t, err)

	reply, err := e.Respond(context.Background(), "chat-1", "how many goals?")
	require.NoError(t, err)
	assert.Equal(t, "42 goals", reply)
	assert.Equal(t, respondRequest{ChatID: "chat-1", Prompt: "how many goals?"}, got)
}

func TestHTTPEngine_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantMsg string
	}{
		{
			name: "server error with detail",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(respondResponse{Error: "model overloaded"})
			},
			wantMsg: "model overloaded",
		},
		{
			name: "server error without body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantMsg: "Bad Gateway",
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
		},
		{
			name: "engine reported error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(respondResponse{Error: "no data"})
			},
			wantMsg: "no data",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			e, err := NewHTTPEngine(srv.URL, time.Second)
			require.NoError(t, err)

			_, err = e.Respond(context.Background(), "chat-1", "hi")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrEngine)
			errutil.AssertErrorCode(t, err, "CHAT_ENGINE_FAILED")
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestHTTPEngine_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	e, err := NewHTTPEngine(srv.URL, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = e.Respond(context.Background(), "chat-1", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEngine)
}
