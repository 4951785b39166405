// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/chatgate/chatgate/internal/account"
)

const userColumns = `id, email, password_hash, full_name, chat_count, max_chats,
	is_premium, subscription_type, created_at, last_login,
	reset_token, reset_token_expires`

// UserRepository implements account.UserRepository, account.UsageRepository
// and account.ResetTokenRepository over the users table.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user. Email uniqueness is enforced by a unique index on LOWER(email).
func (r *UserRepository) Create(ctx context.Context, user *account.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (
			id, email, password_hash, full_name, chat_count, max_chats,
			is_premium, subscription_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		user.FullName,
		user.ChatCount,
		user.MaxChats,
		user.IsPremium,
		user.SubscriptionType,
		user.CreatedAt,
	)
	if err != nil {
		return classify(oops.With("operation", "insert user").With("id", user.ID.String()), err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*account.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())
	user, err := scanUser(row)
	if err != nil {
		return nil, classify(oops.With("operation", "get user by id").With("id", id.String()), err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email, ignoring letter case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*account.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	user, err := scanUser(row)
	if err != nil {
		return nil, classify(oops.With("operation", "get user by email"), err)
	}
	return user, nil
}

// UpdateFullName sets full_name and returns the updated row.
func (r *UserRepository) UpdateFullName(ctx context.Context, id ulid.ULID, fullName string) (*account.User, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE users SET full_name = $2
		WHERE id = $1
		RETURNING `+userColumns,
		id.String(), fullName)
	user, err := scanUser(row)
	if err != nil {
		return nil, classify(oops.With("operation", "update full name").With("id", id.String()), err)
	}
	return user, nil
}

// UpdatePassword replaces password_hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id.String(), passwordHash)
	if err != nil {
		return classify(oops.With("operation", "update password").With("id", id.String()), err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code(account.CodeNotFound).With("id", id.String()).Wrap(account.ErrNotFound)
	}
	return nil
}

// RecordLogin sets last_login.
func (r *UserRepository) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.db.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id.String(), at)
	if err != nil {
		return classify(oops.With("operation", "record login").With("id", id.String()), err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code(account.CodeNotFound).With("id", id.String()).Wrap(account.ErrNotFound)
	}
	return nil
}

// SetPremium grants the premium entitlement and returns the updated row.
func (r *UserRepository) SetPremium(ctx context.Context, id ulid.ULID, tier string, maxChats int) (*account.User, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE users
		SET is_premium = TRUE,
		    subscription_type = CASE WHEN subscription_type = $4 THEN subscription_type ELSE $2 END,
		    max_chats = $3
		WHERE id = $1
		RETURNING `+userColumns,
		id.String(), tier, maxChats, account.TierAdmin)
	user, err := scanUser(row)
	if err != nil {
		return nil, classify(oops.With("operation", "set premium").With("id", id.String()), err)
	}
	return user, nil
}

// ConsumeChat advances chat_count by one when the user is premium or still
// below max_chats. The predicate and the increment are one statement, so
// Postgres row locking serializes concurrent callers for the same user.
func (r *UserRepository) ConsumeChat(ctx context.Context, id ulid.ULID) (account.Usage, bool, error) {
	var usage account.Usage
	err := r.db.QueryRow(ctx, `
		UPDATE users
		SET chat_count = chat_count + 1
		WHERE id = $1 AND (is_premium OR chat_count < max_chats)
		RETURNING chat_count, max_chats, is_premium, subscription_type
	`, id.String()).Scan(&usage.Used, &usage.Limit, &usage.IsPremium, &usage.SubscriptionType)
	if errors.Is(err, pgx.ErrNoRows) {
		return account.Usage{}, false, nil
	}
	if err != nil {
		return account.Usage{}, false, classify(oops.With("operation", "consume chat").With("id", id.String()), err)
	}
	return usage, true, nil
}

// GetUsage reads the quota counters.
func (r *UserRepository) GetUsage(ctx context.Context, id ulid.ULID) (account.Usage, error) {
	var usage account.Usage
	err := r.db.QueryRow(ctx, `
		SELECT chat_count, max_chats, is_premium, subscription_type
		FROM users WHERE id = $1
	`, id.String()).Scan(&usage.Used, &usage.Limit, &usage.IsPremium, &usage.SubscriptionType)
	if err != nil {
		return account.Usage{}, classify(oops.With("operation", "get usage").With("id", id.String()), err)
	}
	return usage, nil
}

// ResetUsage sets chat_count to zero.
func (r *UserRepository) ResetUsage(ctx context.Context, id ulid.ULID) error {
	result, err := r.db.Exec(ctx, `UPDATE users SET chat_count = 0 WHERE id = $1`, id.String())
	if err != nil {
		return classify(oops.With("operation", "reset usage").With("id", id.String()), err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code(account.CodeNotFound).With("id", id.String()).Wrap(account.ErrNotFound)
	}
	return nil
}

// ResetFreeTrial restores the free-trial entitlement with zero usage.
func (r *UserRepository) ResetFreeTrial(ctx context.Context, id ulid.ULID, maxChats int) error {
	result, err := r.db.Exec(ctx, `
		UPDATE users
		SET chat_count = 0, max_chats = $2, is_premium = FALSE, subscription_type = $3
		WHERE id = $1
	`, id.String(), maxChats, account.TierFreeTrial)
	if err != nil {
		return classify(oops.With("operation", "reset free trial").With("id", id.String()), err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code(account.CodeNotFound).With("id", id.String()).Wrap(account.ErrNotFound)
	}
	return nil
}

// SetResetToken stores a reset digest and expiry.
func (r *UserRepository) SetResetToken(ctx context.Context, id ulid.ULID, digest string, expires time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE users SET reset_token = $2, reset_token_expires = $3
		WHERE id = $1
	`, id.String(), digest, expires)
	if err != nil {
		return classify(oops.With("operation", "set reset token").With("id", id.String()), err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code(account.CodeNotFound).With("id", id.String()).Wrap(account.ErrNotFound)
	}
	return nil
}

// ConsumeResetToken swaps the password and clears the reset columns in one
// statement, only while the token is unexpired.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, digest, passwordHash string, now time.Time) (ulid.ULID, error) {
	var idStr string
	err := r.db.QueryRow(ctx, `
		UPDATE users
		SET password_hash = $2, reset_token = NULL, reset_token_expires = NULL
		WHERE reset_token = $1 AND reset_token_expires > $3
		RETURNING id
	`, digest, passwordHash, now).Scan(&idStr)
	if err != nil {
		return ulid.ULID{}, classify(oops.With("operation", "consume reset token"), err)
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return ulid.ULID{}, oops.Code("ACCOUNT_CORRUPT_ID").With("id", idStr).Wrap(err)
	}
	return id, nil
}

// GetResetTokenExpiry returns the expiry stored with digest.
func (r *UserRepository) GetResetTokenExpiry(ctx context.Context, digest string) (time.Time, error) {
	var expires time.Time
	err := r.db.QueryRow(ctx, `SELECT reset_token_expires FROM users WHERE reset_token = $1`, digest).Scan(&expires)
	if err != nil {
		return time.Time{}, classify(oops.With("operation", "get reset token expiry"), err)
	}
	return expires, nil
}

// ClearResetToken nulls the reset columns of the digest holder.
func (r *UserRepository) ClearResetToken(ctx context.Context, digest string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users SET reset_token = NULL, reset_token_expires = NULL
		WHERE reset_token = $1
	`, digest)
	if err != nil {
		return classify(oops.With("operation", "clear reset token"), err)
	}
	return nil
}

func scanUser(row pgx.Row) (*account.User, error) {
	var (
		user  account.User
		idStr string
	)
	if err := row.Scan(
		&idStr,
		&user.Email,
		&user.PasswordHash,
		&user.FullName,
		&user.ChatCount,
		&user.MaxChats,
		&user.IsPremium,
		&user.SubscriptionType,
		&user.CreatedAt,
		&user.LastLogin,
		&user.ResetToken,
		&user.ResetTokenExpires,
	); err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CORRUPT_ID").With("id", idStr).Wrap(err)
	}
	user.ID = id
	return &user, nil
}

// Compile-time interface checks.
var (
	_ account.UserRepository       = (*UserRepository)(nil)
	_ account.UsageRepository      = (*UserRepository)(nil)
	_ account.ResetTokenRepository = (*UserRepository)(nil)
)
