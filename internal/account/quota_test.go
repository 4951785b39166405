// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package account_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatgate/chatgate/internal/account"
	"github.com/chatgate/chatgate/internal/account/accounttest"
	"github.com/chatgate/chatgate/internal/account/mocks"
)

func newQuotaFixture(t *testing.T, maxChats int) (*account.QuotaEnforcer, *account.CredentialStore, *accounttest.MemoryStore) {
	t.Helper()
	mem := accounttest.NewMemoryStore()
	policy := account.DefaultPolicy()
	policy.DefaultMaxChats = maxChats

	creds, err := account.NewCredentialStore(mem, plainHasher{}, policy)
	require.NoError(t, err)
	quota, err := account.NewQuotaEnforcer(mem, policy)
	require.NoError(t, err)
	return quota, creds, mem
}

func TestNewQuotaEnforcer_Validation(t *testing.T) {
	_, err := account.NewQuotaEnforcer(nil, account.DefaultPolicy())
	require.Error(t, err)

	_, err = account.NewQuotaEnforcer(accounttest.NewMemoryStore(), account.Policy{})
	require.Error(t, err)
}

func TestQuotaEnforcer_CheckAndConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("admits until the allowance is spent", func(t *testing.T) {
		quota, creds, _ := newQuotaFixture(t, 3)
		user, err := creds.CreateUser(ctx, "a@x.com", "secret1", "")
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			d, err := quota.CheckAndConsume(ctx, user.ID)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, i, d.Usage.Used)
			assert.Equal(t, 3-i, d.Usage.Remaining())
		}

		d, err := quota.CheckAndConsume(ctx, user.ID)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Contains(t, d.Reason, account.ReasonQuotaExhausted)
		assert.Equal(t, 3, d.Usage.Used, "denial must not advance the counter")
		assert.Equal(t, 0, d.Usage.Remaining())
	})

	t.Run("premium users are never denied", func(t *testing.T) {
		quota, creds, _ := newQuotaFixture(t, 1)
		user, err := creds.CreateUser(ctx, "p@x.com", "secret1", "")
		require.NoError(t, err)
		_, err = creds.SetPremium(ctx, user.ID, "")
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			d, err := quota.CheckAndConsume(ctx, user.ID)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		}
		usage, err := quota.Remaining(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, usage.Used)
		assert.Equal(t, -1, usage.Remaining())
	})

	t.Run("unknown user", func(t *testing.T) {
		quota, _, _ := newQuotaFixture(t, 3)
		_, err := quota.CheckAndConsume(ctx, ulid.Make())
		assert.ErrorIs(t, err, account.ErrNotFound)
	})

	t.Run("datastore failure", func(t *testing.T) {
		usage := mocks.NewMockUsageRepository(t)
		quota, err := account.NewQuotaEnforcer(usage, account.DefaultPolicy())
		require.NoError(t, err)

		id := ulid.Make()
		usage.On("ConsumeChat", ctx, id).Return(account.Usage{}, false, account.ErrDatastoreUnavailable)

		_, err = quota.CheckAndConsume(ctx, id)
		assert.ErrorIs(t, err, account.ErrDatastoreUnavailable)
	})

	t.Run("concurrent callers never overshoot", func(t *testing.T) {
		const maxChats, callers = 5, 50
		quota, creds, mem := newQuotaFixture(t, maxChats)
		user, err := creds.CreateUser(ctx, "race@x.com", "secret1", "")
		require.NoError(t, err)

		var allowed atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, err := quota.CheckAndConsume(ctx, user.ID)
				if err == nil && d.Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(maxChats), allowed.Load())
		assert.Equal(t, maxChats, mem.User(user.ID).ChatCount)
	})
}

func TestQuotaEnforcer_Resets(t *testing.T) {
	ctx := context.Background()
	quota, creds, mem := newQuotaFixture(t, 2)
	user, err := creds.CreateUser(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := quota.CheckAndConsume(ctx, user.ID)
		require.NoError(t, err)
	}

	require.NoError(t, quota.ResetUsage(ctx, user.ID))
	usage, err := quota.Remaining(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Used)
	assert.Equal(t, 2, usage.Remaining())

	_, err = creds.SetPremium(ctx, user.ID, "")
	require.NoError(t, err)
	require.NoError(t, quota.ResetFreeTrial(ctx, user.ID))

	stored := mem.User(user.ID)
	assert.False(t, stored.IsPremium)
	assert.Equal(t, account.TierFreeTrial, stored.SubscriptionType)
	assert.Equal(t, 2, stored.MaxChats)
	assert.Equal(t, 0, stored.ChatCount)

	assert.ErrorIs(t, quota.ResetUsage(ctx, ulid.Make()), account.ErrNotFound)
	assert.ErrorIs(t, quota.ResetFreeTrial(ctx, ulid.Make()), account.ErrNotFound)
}

func TestQuotaEnforcer_Remaining_Unknown(t *testing.T) {
	quota, _, _ := newQuotaFixture(t, 3)
	_, err := quota.Remaining(context.Background(), ulid.Make())
	require.Error(t, err)
	assert.True(t, errors.Is(err, account.ErrNotFound))
}
