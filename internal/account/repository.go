// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package account

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// UserRepository manages User persistence.
//
// Lookups by email are case-insensitive. Methods return an error wrapping
// ErrNotFound when the user does not exist and ErrDatastoreUnavailable for
// any other datastore failure.
type UserRepository interface {
	// Create inserts a new user. Returns an error wrapping ErrDuplicateEmail
	// when the email is already taken in any letter case.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email address.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// UpdateFullName sets the display name and returns the updated user.
	UpdateFullName(ctx context.Context, id ulid.ULID, fullName string) (*User, error)

	// UpdatePassword replaces the stored password digest.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// RecordLogin sets last_login.
	RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error

	// SetPremium marks the user premium with the given tier and chat ceiling.
	// A user on TierAdmin keeps that tier.
	SetPremium(ctx context.Context, id ulid.ULID, tier string, maxChats int) (*User, error)
}

// UsageRepository manages the chat counters on the users table.
type UsageRepository interface {
	// ConsumeChat atomically increments chat_count when the user is premium
	// or below max_chats. Returns (usage, true, nil) when the increment
	// happened and (Usage{}, false, nil) when no row qualified, which covers
	// both an exhausted quota and an unknown user.
	ConsumeChat(ctx context.Context, id ulid.ULID) (Usage, bool, error)

	// GetUsage reads the counters without side effects.
	GetUsage(ctx context.Context, id ulid.ULID) (Usage, error)

	// ResetUsage sets chat_count to zero.
	ResetUsage(ctx context.Context, id ulid.ULID) error

	// ResetFreeTrial returns the user to a fresh, non-premium free trial.
	ResetFreeTrial(ctx context.Context, id ulid.ULID, maxChats int) error
}

// ResetTokenRepository manages the reset_token columns of the users table.
// Only token digests are stored.
type ResetTokenRepository interface {
	// SetResetToken stores a digest and expiry, replacing any outstanding one.
	SetResetToken(ctx context.Context, id ulid.ULID, digest string, expires time.Time) error

	// ConsumeResetToken replaces the password hash and clears both reset
	// columns in one statement, provided a user holds digest with an expiry
	// after now. Returns an error wrapping ErrNotFound when no row qualified.
	ConsumeResetToken(ctx context.Context, digest, passwordHash string, now time.Time) (ulid.ULID, error)

	// GetResetTokenExpiry returns the expiry stored with digest.
	GetResetTokenExpiry(ctx context.Context, digest string) (time.Time, error)

	// ClearResetToken nulls both reset columns for the holder of digest.
	ClearResetToken(ctx context.Context, digest string) error
}

// SessionRepository manages ChatSession persistence.
type SessionRepository interface {
	// RecordTurn stores one chat turn. It creates the (UserID, ChatID)
	// session with rec.Title, or increments its message_count and refreshes
	// last_activity. Session and message are written together.
	RecordTurn(ctx context.Context, rec TurnRecord) error

	// ListMessages returns the turns of the user's chat, oldest first.
	ListMessages(ctx context.Context, userID ulid.ULID, chatID string) ([]*ChatMessage, error)

	// ListByUser returns the user's sessions, most recent activity first.
	ListByUser(ctx context.Context, userID ulid.ULID) ([]*ChatSession, error)

	// ListAll returns up to limit sessions across all users, most recent first.
	ListAll(ctx context.Context, limit int) ([]*SessionOverview, error)
}

// Policy holds the quota and reset parameters shared by the services.
type Policy struct {
	// DefaultMaxChats is the allowance of a newly created user.
	DefaultMaxChats int

	// PremiumMaxChats is the sentinel stored as max_chats for premium users.
	PremiumMaxChats int

	// ResetTokenTTL is how long a reset token stays valid.
	ResetTokenTTL time.Duration
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		DefaultMaxChats: 10,
		PremiumMaxChats: 999999,
		ResetTokenTTL:   time.Hour,
	}
}
