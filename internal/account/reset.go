// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package account

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/samber/oops"
)

// ResetTokenBytes is the entropy of a reset token (64 hex characters).
const ResetTokenBytes = 32

// ResetNotifier delivers a reset token to the account holder.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, user *User, token string) error
}

// GenerateResetToken returns a random token and the digest to store.
func GenerateResetToken() (token, digest string, err error) {
	b := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	token = hex.EncodeToString(b)
	return token, DigestResetToken(token), nil
}

// DigestResetToken computes the SHA-256 hex digest stored for a token.
func DigestResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// PasswordResetFlow issues and consumes single-use reset tokens.
type PasswordResetFlow struct {
	users    UserRepository
	tokens   ResetTokenRepository
	hasher   PasswordHasher
	notifier ResetNotifier
	policy   Policy
	opts     options
}

// NewPasswordResetFlow creates a PasswordResetFlow. notifier may be nil, in
// which case tokens are only returned to the caller.
func NewPasswordResetFlow(
	users UserRepository,
	tokens ResetTokenRepository,
	hasher PasswordHasher,
	notifier ResetNotifier,
	policy Policy,
	opts ...Option,
) (*PasswordResetFlow, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("reset token repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if policy.ResetTokenTTL <= 0 {
		return nil, oops.With("reset_token_ttl", policy.ResetTokenTTL).Errorf("reset token ttl must be positive")
	}
	return &PasswordResetFlow{
		users:    users,
		tokens:   tokens,
		hasher:   hasher,
		notifier: notifier,
		policy:   policy,
		opts:     buildOptions(opts),
	}, nil
}

// RequestReset issues a reset token for email. Unknown emails succeed with
// an empty token so the caller cannot learn which addresses are registered.
// The plaintext token is returned for debug echo; delivery goes through the
// notifier.
func (f *PasswordResetFlow) RequestReset(ctx context.Context, email string) (string, error) {
	user, err := f.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", oops.Code("RESET_REQUEST_FAILED").With("operation", "get user by email").Wrap(err)
	}

	token, digest, err := GenerateResetToken()
	if err != nil {
		return "", oops.Code("RESET_REQUEST_FAILED").With("operation", "generate token").Wrap(err)
	}

	expires := f.opts.now().UTC().Add(f.policy.ResetTokenTTL)
	if err := f.tokens.SetResetToken(ctx, user.ID, digest, expires); err != nil {
		return "", oops.With("operation", "store reset token").With("user_id", user.ID.String()).Wrap(err)
	}

	if f.notifier != nil {
		if err := f.notifier.SendPasswordReset(ctx, user.withoutSecrets(), token); err != nil {
			// The token is stored; the user can ask again.
			f.opts.logger.WarnContext(ctx, "reset notification failed",
				"user_id", user.ID.String(),
				"operation", "send_reset",
				"error", err)
		}
	}

	f.opts.logger.InfoContext(ctx, "password reset requested",
		"user_id", user.ID.String(),
		"expires_at", expires)
	return token, nil
}

// ConfirmReset replaces the password of the holder of token. The password
// change and the clearing of the token happen in one statement, so a token
// can be consumed exactly once.
func (f *PasswordResetFlow) ConfirmReset(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return oops.Code(CodeResetTokenInvalid).Wrapf(ErrResetTokenInvalid, "reset token cannot be empty")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := f.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}

	digest := DigestResetToken(token)
	now := f.opts.now().UTC()

	userID, err := f.tokens.ConsumeResetToken(ctx, digest, hash, now)
	if err == nil {
		f.opts.logger.InfoContext(ctx, "password reset completed", "user_id", userID.String())
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return oops.With("operation", "consume reset token").Wrap(err)
	}

	// Nothing consumed: tell an unknown token apart from an expired one.
	expires, err := f.tokens.GetResetTokenExpiry(ctx, digest)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeResetTokenInvalid).Wrapf(ErrResetTokenInvalid, "reset token not found")
		}
		return oops.With("operation", "read reset token expiry").Wrap(err)
	}
	if expires.After(now) {
		// Reissued between the two statements; the caller's token no longer applies.
		return oops.Code(CodeResetTokenInvalid).Wrapf(ErrResetTokenInvalid, "reset token not found")
	}

	if err := f.tokens.ClearResetToken(ctx, digest); err != nil {
		f.opts.logger.WarnContext(ctx, "best-effort expired reset token cleanup failed",
			"operation", "clear_reset_token",
			"error", err)
	}
	return oops.Code(CodeResetTokenExpired).With("expired_at", expires).Wrapf(ErrResetTokenExpired, "reset token has expired")
}
