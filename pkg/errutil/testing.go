// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package errutil

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err carries code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, requireOops(t, err).Code(), "error: %v", err)
}

// AssertErrorContext asserts that err recorded key with value.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := requireOops(t, err).Context()
	if assert.Contains(t, ctx, key) {
		assert.Equal(t, value, ctx[key])
	}
}

// AssertClassified asserts that err wraps sentinel and carries its code.
// Repositories and the account services classify every failure this way.
func AssertClassified(t *testing.T, err error, sentinel error, code string) {
	t.Helper()
	AssertErrorCode(t, err, code)
	assert.True(t, errors.Is(err, sentinel), "%v does not wrap %v", err, sentinel)
}

// AssertRedacted asserts that no secret appears in err's message or in any
// value it recorded. Passwords, reset tokens and bearer tokens must only
// ever reach the logs as digests or not at all.
func AssertRedacted(t *testing.T, err error, secrets ...string) {
	t.Helper()
	require.Error(t, err)

	surfaces := []string{err.Error()}
	if oopsErr, ok := oops.AsOops(err); ok {
		for key, value := range oopsErr.Context() {
			surfaces = append(surfaces, key+"="+fmt.Sprint(value))
		}
	}
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		for _, s := range surfaces {
			assert.False(t, strings.Contains(s, secret), "secret leaked into %q", s)
		}
	}
}
