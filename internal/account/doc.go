// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

// Package account owns the User and ChatSession entities of chatgate.
//
// # Services
//
// Each service wraps a narrow repository interface and a Policy:
//   - CredentialStore - account creation, authentication, profile and premium changes
//   - QuotaEnforcer - atomic check-and-consume of the per-user chat allowance
//   - PasswordResetFlow - single-use, time-limited password reset tokens
//   - ChatSessionTracker - best-effort per-conversation message bookkeeping
//
// Services are created with New* constructors that validate dependencies.
// Repository implementations live in the postgres subpackage.
package account
