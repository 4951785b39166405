// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package account

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Subscription tiers known to the core. SetPremium accepts any non-empty tier.
const (
	TierFreeTrial = "free_trial"
	TierPremium   = "premium"
	TierAdmin     = "admin"
)

// Field constraints.
const (
	MaxEmailLength    = 254
	MaxFullNameLength = 200
	MaxTierLength     = 50
	MinPasswordLength = 5
	MaxPasswordLength = 1024
)

// User is a registered account.
type User struct {
	ID                ulid.ULID  `json:"id"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	FullName          string     `json:"full_name"`
	ChatCount         int        `json:"chat_count"`
	MaxChats          int        `json:"max_chats"`
	IsPremium         bool       `json:"is_premium"`
	SubscriptionType  string     `json:"subscription_type"`
	CreatedAt         time.Time  `json:"created_at"`
	LastLogin         *time.Time `json:"last_login,omitempty"`
	ResetToken        *string    `json:"-"`
	ResetTokenExpires *time.Time `json:"-"`
}

// Usage returns the quota snapshot of the user.
func (u *User) Usage() Usage {
	return Usage{
		Used:             u.ChatCount,
		Limit:            u.MaxChats,
		IsPremium:        u.IsPremium,
		SubscriptionType: u.SubscriptionType,
	}
}

// IsAdmin reports whether the user holds the admin tier.
func (u *User) IsAdmin() bool {
	return u.SubscriptionType == TierAdmin
}

// Usage is a read-only quota snapshot.
type Usage struct {
	Used             int    `json:"used"`
	Limit            int    `json:"limit"`
	IsPremium        bool   `json:"is_premium"`
	SubscriptionType string `json:"subscription_type"`
}

// Remaining returns the chats left before denial, or -1 when unbounded.
func (u Usage) Remaining() int {
	if u.IsPremium {
		return -1
	}
	if left := u.Limit - u.Used; left > 0 {
		return left
	}
	return 0
}

// ProfileUpdate carries the mutable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	FullName *string
}

// NormalizeEmail trims surrounding whitespace. Case is preserved for display;
// uniqueness and lookup are case-insensitive at the datastore.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// ValidateEmail checks that email is a single bare address.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code(CodeInvalidInput).With("field", "email").Wrapf(ErrInvalidInput, "email is required")
	}
	if len(email) > MaxEmailLength {
		return oops.Code(CodeInvalidInput).
			With("field", "email").
			With("max", MaxEmailLength).
			Wrapf(ErrInvalidInput, "email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return oops.Code(CodeInvalidInput).With("field", "email").Wrapf(ErrInvalidInput, "email is malformed")
	}
	return nil
}

// ValidatePassword checks plaintext password length bounds.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code(CodeInvalidInput).
			With("field", "password").
			With("min", MinPasswordLength).
			Wrapf(ErrInvalidInput, "password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return oops.Code(CodeInvalidInput).
			With("field", "password").
			With("max", MaxPasswordLength).
			Wrapf(ErrInvalidInput, "password is too long")
	}
	return nil
}

// ValidateFullName checks the display name.
func ValidateFullName(name string) error {
	if utf8.RuneCountInString(name) > MaxFullNameLength {
		return oops.Code(CodeInvalidInput).
			With("field", "full_name").
			With("max", MaxFullNameLength).
			Wrapf(ErrInvalidInput, "full name is too long")
	}
	return nil
}

// ValidateTier checks a subscription tier label.
func ValidateTier(tier string) error {
	if tier == "" || len(tier) > MaxTierLength {
		return oops.Code(CodeInvalidInput).With("field", "tier").Wrapf(ErrInvalidInput, "tier must be 1-%d characters", MaxTierLength)
	}
	return nil
}
