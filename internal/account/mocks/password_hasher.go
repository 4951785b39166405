// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/chatgate/chatgate/internal/account"
)

// MockPasswordHasher is a mock of account.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher bound to t.
func NewMockPasswordHasher(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordHasher) Verify(password, encoded string) (bool, error) {
	args := m.Called(password, encoded)
	return args.Bool(0), args.Error(1)
}

func (m *MockPasswordHasher) NeedsUpgrade(encoded string) bool {
	return m.Called(encoded).Bool(0)
}

var _ account.PasswordHasher = (*MockPasswordHasher)(nil)
