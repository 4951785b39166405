// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

// Package mocks provides testify mocks of the account interfaces.
//
// Each constructor registers AssertExpectations with t.Cleanup, so tests only
// declare expectations with On.
package mocks
