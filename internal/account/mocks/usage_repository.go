// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package mocks

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/chatgate/chatgate/internal/account"
)

// MockUsageRepository is a mock of account.UsageRepository.
type MockUsageRepository struct {
	mock.Mock
}

// NewMockUsageRepository creates a MockUsageRepository bound to t.
func NewMockUsageRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockUsageRepository {
	m := &MockUsageRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockUsageRepository) ConsumeChat(ctx context.Context, id ulid.ULID) (account.Usage, bool, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(account.Usage), args.Bool(1), args.Error(2)
}

func (m *MockUsageRepository) GetUsage(ctx context.Context, id ulid.ULID) (account.Usage, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(account.Usage), args.Error(1)
}

func (m *MockUsageRepository) ResetUsage(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockUsageRepository) ResetFreeTrial(ctx context.Context, id ulid.ULID, maxChats int) error {
	return m.Called(ctx, id, maxChats).Error(0)
}

var _ account.UsageRepository = (*MockUsageRepository)(nil)
