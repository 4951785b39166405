// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package store

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsFS_EmbeddedFiles(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	names := make(map[string]bool, len(entries))
	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	for _, entry := range entries {
		names[entry.Name()] = true
		assert.True(t, pattern.MatchString(entry.Name()),
			"file %s should match NNNNNN_name.(up|down).sql", entry.Name())
	}

	// Every up migration ships its down.
	for name := range names {
		if base, ok := strings.CutSuffix(name, ".up.sql"); ok {
			assert.True(t, names[base+".down.sql"], "missing down migration for %s", name)
		}
	}
	assert.True(t, names["000001_users.up.sql"])
	assert.True(t, names["000002_chat_sessions.up.sql"])
	assert.True(t, names["000003_chat_messages.up.sql"])
}
