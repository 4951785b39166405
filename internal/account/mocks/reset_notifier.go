// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/chatgate/chatgate/internal/account"
)

// MockResetNotifier is a mock of account.ResetNotifier.
type MockResetNotifier struct {
	mock.Mock
}

// NewMockResetNotifier creates a MockResetNotifier bound to t.
func NewMockResetNotifier(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockResetNotifier {
	m := &MockResetNotifier{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockResetNotifier) SendPasswordReset(ctx context.Context, user *account.User, token string) error {
	return m.Called(ctx, user, token).Error(0)
}

var _ account.ResetNotifier = (*MockResetNotifier)(nil)
