// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const revokedKeyPrefix = "revoked:jti:"

// RedisRevoker keeps revoked token ids in Redis with a TTL matching the
// token's remaining life, so the set never outgrows the live tokens.
type RedisRevoker struct {
	client redis.Cmdable
}

// NewRedisRevoker creates a RedisRevoker.
func NewRedisRevoker(client redis.Cmdable) *RedisRevoker {
	return &RedisRevoker{client: client}
}

// Revoke implements Revoker.
func (r *RedisRevoker) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if err := r.client.Set(ctx, revokedKeyPrefix+id, "1", ttl).Err(); err != nil {
		return oops.With("operation", "revoke token").With("jti", id).Wrap(err)
	}
	return nil
}

// IsRevoked implements Revoker. Redis errors are returned rather than
// treated as "not revoked".
func (r *RedisRevoker) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKeyPrefix+id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, oops.With("operation", "check revoked token").With("jti", id).Wrap(err)
	}
	return n > 0, nil
}

// MemoryRevoker is a process-local Revoker for single-instance deployments.
type MemoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevoker creates an empty MemoryRevoker.
func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{revoked: make(map[string]time.Time), now: time.Now}
}

// Revoke implements Revoker. Expired entries are swept on each call.
func (m *MemoryRevoker) Revoke(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, until := range m.revoked {
		if !until.After(now) {
			delete(m.revoked, k)
		}
	}
	m.revoked[id] = now.Add(ttl)
	return nil
}

// IsRevoked implements Revoker.
func (m *MemoryRevoker) IsRevoked(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[id]
	return ok && until.After(m.now()), nil
}

var (
	_ Revoker = (*RedisRevoker)(nil)
	_ Revoker = (*MemoryRevoker)(nil)
)
