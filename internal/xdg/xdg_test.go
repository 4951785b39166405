// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDir(t *testing.T) {
	tests := []struct {
		name       string
		configHome string
		home       string
		want       string
	}{
		{"env var", "/custom/config", "/home/testuser", "/custom/config/chatgate"},
		{"home fallback", "", "/home/testuser", "/home/testuser/.config/chatgate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_CONFIG_HOME", tt.configHome)
			t.Setenv("HOME", tt.home)

			got, err := ConfigDir()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	got, err := ConfigFile()
	require.NoError(t, err)
	assert.Equal(t, "/custom/config/chatgate/config.yaml", got)
}

func TestFindConfigFile(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	got, err := FindConfigFile()
	require.NoError(t, err)
	assert.Empty(t, got, "missing file is not an error")

	dir := filepath.Join(base, "chatgate")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ConfigFileName), 0o700))
	got, err = FindConfigFile()
	require.NoError(t, err)
	assert.Empty(t, got, "a directory is not a config file")

	require.NoError(t, os.Remove(filepath.Join(dir, ConfigFileName)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("log:\n  level: debug\n"), 0o600))
	got, err = FindConfigFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ConfigFileName), got)
}
