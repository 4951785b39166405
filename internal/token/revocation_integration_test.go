// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

//go:build integration

package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/chatgate/chatgate/internal/token"
)

func TestRedisRevoker_Integration(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer func() { _ = client.Close() }()

	revoker := token.NewRedisRevoker(client)
	svc, err := token.NewService(testSecretIntegration, time.Hour, token.WithRevoker(revoker))
	require.NoError(t, err)

	tok, err := svc.Issue(ulid.Make())
	require.NoError(t, err)
	claims, err := svc.Verify(ctx, tok.Value)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, claims))
	_, err = svc.Verify(ctx, tok.Value)
	assert.ErrorIs(t, err, token.ErrTokenInvalid)

	ttl, err := client.TTL(ctx, "revoked:jti:"+claims.ID).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)
}

var testSecretIntegration = []byte("integration-secret-0123456789abcdef")
