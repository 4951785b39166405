// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

// Package postgres implements the account repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/chatgate/chatgate/internal/account"
)

// DBTX is the subset of *pgxpool.Pool used by the repositories.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// emailKey is the unique index enforcing case-insensitive email uniqueness.
const emailKey = "users_email_lower_key"

// codeConflict marks unique violations other than a duplicate email.
const codeConflict = "ACCOUNT_CONFLICT"

// classify maps a pgx error onto the account error taxonomy. builder carries
// the operation context of the caller.
func classify(builder oops.OopsErrorBuilder, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return builder.Code(account.CodeNotFound).Wrap(account.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			if pgErr.ConstraintName != emailKey {
				return builder.Code(codeConflict).
					With("constraint", pgErr.ConstraintName).
					Wrap(err)
			}
			return builder.Code(account.CodeDuplicateEmail).
				With("constraint", pgErr.ConstraintName).
				Wrap(account.ErrDuplicateEmail)
		case pgerrcode.ForeignKeyViolation:
			return builder.Code(account.CodeNotFound).
				With("constraint", pgErr.ConstraintName).
				Wrap(account.ErrNotFound)
		case pgerrcode.CheckViolation, pgerrcode.StringDataRightTruncationDataException:
			return builder.Code(account.CodeInvalidInput).
				With("constraint", pgErr.ConstraintName).
				Wrap(account.ErrInvalidInput)
		}
	}

	// Already classified, e.g. a corrupt id from scanning.
	if _, ok := oops.AsOops(err); ok {
		return builder.Wrap(err)
	}

	return builder.Code(account.CodeDatastoreUnavailable).
		Wrap(fmt.Errorf("%w: %w", account.ErrDatastoreUnavailable, err))
}
