// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/chatgate/chatgate/internal/account"
)

// MockResetTokenRepository is a mock of account.ResetTokenRepository.
type MockResetTokenRepository struct {
	mock.Mock
}

// NewMockResetTokenRepository creates a MockResetTokenRepository bound to t.
func NewMockResetTokenRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockResetTokenRepository {
	m := &MockResetTokenRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockResetTokenRepository) SetResetToken(ctx context.Context, id ulid.ULID, digest string, expires time.Time) error {
	return m.Called(ctx, id, digest, expires).Error(0)
}

func (m *MockResetTokenRepository) ConsumeResetToken(ctx context.Context, digest, passwordHash string, now time.Time) (ulid.ULID, error) {
	args := m.Called(ctx, digest, passwordHash, now)
	return args.Get(0).(ulid.ULID), args.Error(1)
}

func (m *MockResetTokenRepository) GetResetTokenExpiry(ctx context.Context, digest string) (time.Time, error) {
	args := m.Called(ctx, digest)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockResetTokenRepository) ClearResetToken(ctx context.Context, digest string) error {
	return m.Called(ctx, digest).Error(0)
}

var _ account.ResetTokenRepository = (*MockResetTokenRepository)(nil)
