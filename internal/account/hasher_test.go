// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package account_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatgate/chatgate/internal/account"
	"github.com/chatgate/chatgate/pkg/errutil"
)

func TestArgon2idHasher_Hash(t *testing.T) {
	hasher := account.NewArgon2idHasher()

	t.Run("produces phc string", func(t *testing.T) {
		hash, err := hasher.Hash("password123")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=1,p=4$"))
	})

	t.Run("salts every digest", func(t *testing.T) {
		hash1, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		hash2, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "ACCOUNT_EMPTY_PASSWORD")
	})
}

func TestArgon2idHasher_Verify(t *testing.T) {
	hasher := account.NewArgon2idHasher()
	hash, err := hasher.Hash("correctpassword")
	require.NoError(t, err)

	t.Run("correct password", func(t *testing.T) {
		ok, err := hasher.Verify("correctpassword", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong password", func(t *testing.T) {
		ok, err := hasher.Verify("wrongpassword", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	malformed := []struct {
		name    string
		encoded string
	}{
		{"not phc", "not-a-valid-hash"},
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"bad version", "$argon2id$vXX$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"bad params", "$argon2id$v=19$garbage$c2FsdA$aGFzaA"},
		{"bad salt", "$argon2id$v=19$m=65536,t=1,p=4$!!!$aGFzaA"},
		{"bad key", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$!!!"},
		{"zero threads", "$argon2id$v=19$m=65536,t=1,p=0$c2FsdA$aGFzaA"},
	}
	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hasher.Verify("password", tt.encoded)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "ACCOUNT_INVALID_HASH")
		})
	}
}

func TestArgon2idHasher_NeedsUpgrade(t *testing.T) {
	hasher := account.NewArgon2idHasher()
	current, err := hasher.Hash("password")
	require.NoError(t, err)

	tests := []struct {
		name    string
		encoded string
		want    bool
	}{
		{"current parameters", current, false},
		{"weaker memory", "$argon2id$v=19$m=32768,t=1,p=4$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA", true},
		{"stronger parameters", "$argon2id$v=19$m=131072,t=2,p=4$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA", false},
		{"legacy format", "$2a$10$abcdefghijklmnopqrstuv", true},
		{"garbage", "garbage", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasher.NeedsUpgrade(tt.encoded))
		})
	}
}
