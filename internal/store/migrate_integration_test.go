// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chatgate/chatgate/internal/store"
)

func TestMigrator_FullCycle(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("chatgate_migrate"),
		postgres.WithUsername("chatgate"),
		postgres.WithPassword("chatgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	defer func() { _ = pgContainer.Terminate(ctx) }()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrator, err := store.NewMigrator(connStr)
	require.NoError(t, err)
	defer func() { _ = migrator.Close() }()

	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	all, err := store.MigrationVersions()
	require.NoError(t, err)
	pending, err := migrator.Pending()
	require.NoError(t, err)
	assert.Equal(t, all, pending)

	require.NoError(t, migrator.Up())
	version, dirty, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, all[len(all)-1], version)
	assert.False(t, dirty)

	// Up is idempotent.
	require.NoError(t, migrator.Up())

	require.NoError(t, migrator.Steps(-1))
	version, _, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, all[len(all)-2], version)

	require.NoError(t, migrator.Down())
	version, _, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)

	require.NoError(t, migrator.Up())
}
