// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package mocks

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/chatgate/chatgate/internal/account"
)

// MockSessionRepository is a mock of account.SessionRepository.
type MockSessionRepository struct {
	mock.Mock
}

// NewMockSessionRepository creates a MockSessionRepository bound to t.
func NewMockSessionRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockSessionRepository {
	m := &MockSessionRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockSessionRepository) RecordTurn(ctx context.Context, rec account.TurnRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockSessionRepository) ListMessages(ctx context.Context, userID ulid.ULID, chatID string) ([]*account.ChatMessage, error) {
	args := m.Called(ctx, userID, chatID)
	var messages []*account.ChatMessage
	if v := args.Get(0); v != nil {
		messages = v.([]*account.ChatMessage)
	}
	return messages, args.Error(1)
}

func (m *MockSessionRepository) ListByUser(ctx context.Context, userID ulid.ULID) ([]*account.ChatSession, error) {
	args := m.Called(ctx, userID)
	var sessions []*account.ChatSession
	if v := args.Get(0); v != nil {
		sessions = v.([]*account.ChatSession)
	}
	return sessions, args.Error(1)
}

func (m *MockSessionRepository) ListAll(ctx context.Context, limit int) ([]*account.SessionOverview, error) {
	args := m.Called(ctx, limit)
	var overviews []*account.SessionOverview
	if v := args.Get(0); v != nil {
		overviews = v.([]*account.SessionOverview)
	}
	return overviews, args.Error(1)
}

var _ account.SessionRepository = (*MockSessionRepository)(nil)
