// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

// Package token issues and verifies signed session tokens.
package token

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MinSecretLength is the minimum HMAC key size in bytes.
const MinSecretLength = 32

// Error codes.
const (
	CodeTokenInvalid          = "TOKEN_INVALID"
	CodeTokenExpired          = "TOKEN_EXPIRED"
	CodeRevocationUnavailable = "TOKEN_REVOCATION_UNAVAILABLE"
)

var (
	// ErrTokenInvalid is returned for malformed, forged, revoked or
	// otherwise unacceptable tokens.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired is returned for well-formed tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrRevocationUnavailable is returned when the revocation set cannot be consulted.
	ErrRevocationUnavailable = errors.New("token revocation unavailable")
)

// Token is an issued session token.
type Token struct {
	Value     string    `json:"access_token"`
	ID        string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claims are the verified contents of a token.
type Claims struct {
	UserID    ulid.ULID
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Revoker records tokens that must no longer be accepted.
type Revoker interface {
	// Revoke rejects the token id until ttl elapses.
	Revoke(ctx context.Context, id string, ttl time.Duration) error

	// IsRevoked reports whether id was revoked.
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// Service issues and verifies HS256 tokens.
type Service struct {
	secret  []byte
	ttl     time.Duration
	revoker Revoker
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRevoker enables revocation checks and Revoke.
func WithRevoker(r Revoker) Option {
	return func(s *Service) { s.revoker = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a Service. The secret is copied and never changes
// for the life of the Service.
func NewService(secret []byte, ttl time.Duration, opts ...Option) (*Service, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("TOKEN_SECRET_TOO_SHORT").
			With("min", MinSecretLength).
			Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, oops.With("ttl", ttl).Errorf("token ttl must be positive")
	}

	s := &Service{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the lifetime of issued tokens.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for userID.
func (s *Service) Issue(userID ulid.ULID) (Token, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	id := uuid.NewString()

	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, oops.Code("TOKEN_SIGN_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return Token{Value: signed, ID: id, ExpiresAt: expires.Truncate(time.Second)}, nil
}

// Verify checks the signature, algorithm, expiry and revocation state of raw.
func (s *Service) Verify(ctx context.Context, raw string) (Claims, error) {
	var rc jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &rc, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, oops.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Claims{}, oops.Code(CodeTokenExpired).Wrap(ErrTokenExpired)
	}
	if err != nil {
		return Claims{}, oops.Code(CodeTokenInvalid).With("reason", err.Error()).Wrap(ErrTokenInvalid)
	}

	userID, err := ulid.Parse(rc.Subject)
	if err != nil {
		return Claims{}, oops.Code(CodeTokenInvalid).With("reason", "subject is not a user id").Wrap(ErrTokenInvalid)
	}

	claims := Claims{UserID: userID, ID: rc.ID, ExpiresAt: rc.ExpiresAt.Time}
	if rc.IssuedAt != nil {
		claims.IssuedAt = rc.IssuedAt.Time
	}

	if s.revoker != nil && claims.ID != "" {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Claims{}, oops.Code(CodeRevocationUnavailable).
				With("jti", claims.ID).
				Wrapf(errors.Join(ErrRevocationUnavailable, err), "check revocation")
		}
		if revoked {
			return Claims{}, oops.Code(CodeTokenInvalid).With("reason", "revoked").Wrap(ErrTokenInvalid)
		}
	}
	return claims, nil
}

// Revoke rejects claims for the rest of their lifetime. Without a revoker
// it is a no-op and the client is expected to discard the token.
func (s *Service) Revoke(ctx context.Context, claims Claims) error {
	if s.revoker == nil || claims.ID == "" {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.revoker.Revoke(ctx, claims.ID, ttl); err != nil {
		return oops.Code(CodeRevocationUnavailable).
			With("jti", claims.ID).
			Wrapf(errors.Join(ErrRevocationUnavailable, err), "revoke token")
	}
	s.logger.InfoContext(ctx, "token revoked", "user_id", claims.UserID.String(), "jti", claims.ID)
	return nil
}
