// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, SchemaID, schema["$id"])
	assert.Equal(t, false, schema["additionalProperties"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"server", "log", "database", "auth", "quota", "redis", "email", "chat", "tracker"} {
		assert.Contains(t, props, key)
	}

	auth := props["auth"].(map[string]any)["properties"].(map[string]any)
	ttl := auth["token_ttl"].(map[string]any)
	assert.Equal(t, "string", ttl["type"])
	assert.Equal(t, durationPattern, ttl["pattern"])
	assert.NotContains(t, schema, "required")
}

func TestValidateSchema(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"empty", "", false},
		{"partial", "log:\n  format: text\n", false},
		{"durations", "auth:\n  token_ttl: 1h30m\n  reset_token_ttl: 45m\n", false},
		{"unknown section", "cache:\n  size: 1\n", true},
		{"bad enum", "log:\n  level: loud\n", true},
		{"quota below minimum", "quota:\n  default_max_chats: 0\n", true},
		{"wrong type", "server:\n  debug: \"maybe\"\n", true},
		{"bad duration", "chat:\n  timeout: soon\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchema([]byte(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRedactedRoundTripsThroughSchema(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.AdminEmails = []string{"*@staff.example.com"}

	out, err := yaml.Marshal(cfg.Redacted())
	require.NoError(t, err)
	assert.NoError(t, ValidateSchema(out), "printed config must be loadable:\n%s", out)
}
