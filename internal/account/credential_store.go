// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package account

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// dummyPasswordHash is verified against when the email is unknown so that
// both failure paths cost one argon2id computation.
//
//nolint:gosec // G101: intentionally fake hash for timing parity, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// CredentialStore owns User creation, lookup, verification and profile changes.
type CredentialStore struct {
	users  UserRepository
	hasher PasswordHasher
	policy Policy
	opts   options
}

// NewCredentialStore creates a CredentialStore.
func NewCredentialStore(users UserRepository, hasher PasswordHasher, policy Policy, opts ...Option) (*CredentialStore, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if policy.DefaultMaxChats <= 0 || policy.PremiumMaxChats <= 0 {
		return nil, oops.With("default_max_chats", policy.DefaultMaxChats).
			With("premium_max_chats", policy.PremiumMaxChats).
			Errorf("policy chat limits must be positive")
	}
	return &CredentialStore{
		users:  users,
		hasher: hasher,
		policy: policy,
		opts:   buildOptions(opts),
	}, nil
}

// CreateUser registers a new account with the default allowance.
// Emails matching the admin matcher are created with the admin tier.
func (s *CredentialStore) CreateUser(ctx context.Context, email, password, fullName string) (*User, error) {
	email = NormalizeEmail(email)
	fullName = strings.TrimSpace(fullName)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	if err := ValidateFullName(fullName); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").With("operation", "hash password").Wrap(err)
	}

	user := &User{
		ID:               ulid.Make(),
		Email:            email,
		PasswordHash:     hash,
		FullName:         fullName,
		MaxChats:         s.policy.DefaultMaxChats,
		SubscriptionType: TierFreeTrial,
		CreatedAt:        s.opts.now().UTC(),
	}
	if s.opts.admins.IsAdmin(email) {
		user.IsPremium = true
		user.SubscriptionType = TierAdmin
		user.MaxChats = s.policy.PremiumMaxChats
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, oops.With("operation", "create user").Wrap(err)
	}

	s.opts.logger.InfoContext(ctx, "user created",
		"user_id", user.ID.String(),
		"subscription_type", user.SubscriptionType)
	return user.withoutSecrets(), nil
}

// Authenticate verifies a password. Unknown emails fail with ErrNotFound and
// wrong passwords with ErrInvalidCredential; callers at the transport boundary
// must not distinguish the two.
func (s *CredentialStore) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)

	user, lookupErr := s.users.GetByEmail(ctx, email)
	targetHash := dummyPasswordHash
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.With("operation", "get user by email").Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
	}

	// Always verify, even for unknown emails, to keep timing uniform.
	valid, verifyErr := s.hasher.Verify(password, targetHash)

	if lookupErr != nil {
		return nil, oops.Code(CodeNotFound).Wrapf(ErrNotFound, "no account for email")
	}
	if verifyErr != nil {
		return nil, oops.Code("ACCOUNT_AUTH_FAILED").
			With("user_id", user.ID.String()).
			With("operation", "verify password").
			Wrap(verifyErr)
	}
	if !valid {
		return nil, oops.Code(CodeInvalidCredential).
			With("user_id", user.ID.String()).
			Wrap(ErrInvalidCredential)
	}

	now := s.opts.now().UTC()
	if err := s.users.RecordLogin(ctx, user.ID, now); err != nil {
		s.opts.logger.WarnContext(ctx, "best-effort last_login update failed",
			"user_id", user.ID.String(),
			"operation", "record_login",
			"error", err)
	} else {
		user.LastLogin = &now
	}

	if !user.IsPremium && s.opts.admins.IsAdmin(user.Email) {
		promoted, err := s.users.SetPremium(ctx, user.ID, TierAdmin, s.policy.PremiumMaxChats)
		if err != nil {
			s.opts.logger.WarnContext(ctx, "best-effort admin promotion failed",
				"user_id", user.ID.String(),
				"operation", "promote_admin",
				"error", err)
		} else {
			promoted.LastLogin = user.LastLogin
			user = promoted
		}
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user.ID, password)
	}

	return user.withoutSecrets(), nil
}

func (s *CredentialStore) upgradeHash(ctx context.Context, id ulid.ULID, password string) {
	newHash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, id, newHash)
	}
	if err != nil {
		s.opts.logger.WarnContext(ctx, "best-effort password rehash failed",
			"user_id", id.String(),
			"operation", "rehash_password",
			"error", err)
	}
}

// GetUser returns the user with the given ID.
func (s *CredentialStore) GetUser(ctx context.Context, id ulid.ULID) (*User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, oops.With("operation", "get user").Wrap(err)
	}
	return user.withoutSecrets(), nil
}

// UpdateProfile applies the mutable profile fields.
func (s *CredentialStore) UpdateProfile(ctx context.Context, id ulid.ULID, update ProfileUpdate) (*User, error) {
	if update.FullName == nil {
		return s.GetUser(ctx, id)
	}

	name := strings.TrimSpace(*update.FullName)
	if err := ValidateFullName(name); err != nil {
		return nil, err
	}

	user, err := s.users.UpdateFullName(ctx, id, name)
	if err != nil {
		return nil, oops.With("operation", "update full name").Wrap(err)
	}
	return user.withoutSecrets(), nil
}

// SetPremium grants the premium entitlement. An empty tier means TierPremium.
// Calling it again with the same tier leaves the user unchanged, and an admin
// keeps TierAdmin whatever tier is asked for.
func (s *CredentialStore) SetPremium(ctx context.Context, id ulid.ULID, tier string) (*User, error) {
	tier = strings.TrimSpace(tier)
	if tier == "" {
		tier = TierPremium
	}
	if err := ValidateTier(tier); err != nil {
		return nil, err
	}

	user, err := s.users.SetPremium(ctx, id, tier, s.policy.PremiumMaxChats)
	if err != nil {
		return nil, oops.With("operation", "set premium").With("tier", tier).Wrap(err)
	}

	s.opts.logger.InfoContext(ctx, "premium granted", "user_id", id.String(), "tier", user.SubscriptionType)
	return user.withoutSecrets(), nil
}

// SetPasswordAndAdmin replaces the password of an existing account and
// grants it the admin tier.
func (s *CredentialStore) SetPasswordAndAdmin(ctx context.Context, email, password string) (*User, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, oops.With("operation", "get user by email").Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("ACCOUNT_ADMIN_SETUP_FAILED").With("operation", "hash password").Wrap(err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return nil, oops.With("operation", "update password").Wrap(err)
	}

	return s.SetPremium(ctx, user.ID, TierAdmin)
}

// withoutSecrets returns a copy with the password and reset digests removed.
func (u *User) withoutSecrets() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.PasswordHash = ""
	c.ResetToken = nil
	c.ResetTokenExpires = nil
	return &c
}
