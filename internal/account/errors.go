// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package account

import "errors"

// Error codes attached to oops errors raised by this package and its repositories.
const (
	CodeDuplicateEmail       = "ACCOUNT_DUPLICATE_EMAIL"
	CodeNotFound             = "ACCOUNT_NOT_FOUND"
	CodeInvalidCredential    = "ACCOUNT_INVALID_CREDENTIAL"
	CodeInvalidInput         = "ACCOUNT_INVALID_INPUT"
	CodeResetTokenInvalid    = "RESET_TOKEN_INVALID"
	CodeResetTokenExpired    = "RESET_TOKEN_EXPIRED"
	CodeDatastoreUnavailable = "DATASTORE_UNAVAILABLE"
)

var (
	// ErrNotFound is returned when a requested user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when an email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidCredential is returned when a password does not match.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrInvalidInput is returned when user-supplied fields fail validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrResetTokenInvalid is returned when no user holds a reset token.
	ErrResetTokenInvalid = errors.New("reset token invalid")

	// ErrResetTokenExpired is returned when a reset token is past its expiry.
	ErrResetTokenExpired = errors.New("reset token expired")

	// ErrDatastoreUnavailable wraps any datastore failure that is not a domain outcome.
	ErrDatastoreUnavailable = errors.New("datastore unavailable")
)
