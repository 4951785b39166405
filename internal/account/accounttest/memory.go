// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

// Package accounttest provides an in-memory datastore for account tests.
package accounttest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/chatgate/chatgate/internal/account"
)

// MemoryStore implements every account repository over maps guarded by one
// mutex. Conditional updates hold the lock for the whole check-and-write,
// mirroring the single-statement semantics of the PostgreSQL repositories.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[ulid.ULID]*account.User
	sessions map[sessionKey]*account.ChatSession
	messages map[sessionKey][]*account.ChatMessage

	// Fault, when set, is consulted before every operation; a non-nil
	// result is returned as a datastore failure.
	Fault func(op string) error
}

type sessionKey struct {
	userID ulid.ULID
	chatID string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[ulid.ULID]*account.User),
		sessions: make(map[sessionKey]*account.ChatSession),
		messages: make(map[sessionKey][]*account.ChatMessage),
	}
}

func (s *MemoryStore) fault(op string) error {
	if s.Fault == nil {
		return nil
	}
	if err := s.Fault(op); err != nil {
		return oops.Code(account.CodeDatastoreUnavailable).
			With("operation", op).
			Wrap(fmt.Errorf("%w: %w", account.ErrDatastoreUnavailable, err))
	}
	return nil
}

func notFound(op string) error {
	return oops.Code(account.CodeNotFound).With("operation", op).Wrap(account.ErrNotFound)
}

func clone(u *account.User) *account.User {
	c := *u
	return &c
}

// findByEmail must be called with mu held.
func (s *MemoryStore) findByEmail(email string) *account.User {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u
		}
	}
	return nil
}

// findByDigest must be called with mu held.
func (s *MemoryStore) findByDigest(digest string) *account.User {
	for _, u := range s.users {
		if u.ResetToken != nil && *u.ResetToken == digest {
			return u
		}
	}
	return nil
}

// Create implements account.UserRepository.
func (s *MemoryStore) Create(_ context.Context, user *account.User) error {
	if err := s.fault("create"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findByEmail(user.Email) != nil {
		return oops.Code(account.CodeDuplicateEmail).With("operation", "create").Wrap(account.ErrDuplicateEmail)
	}
	s.users[user.ID] = clone(user)
	return nil
}

// GetByID implements account.UserRepository.
func (s *MemoryStore) GetByID(_ context.Context, id ulid.ULID) (*account.User, error) {
	if err := s.fault("get_by_id"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, notFound("get_by_id")
	}
	return clone(u), nil
}

// GetByEmail implements account.UserRepository.
func (s *MemoryStore) GetByEmail(_ context.Context, email string) (*account.User, error) {
	if err := s.fault("get_by_email"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findByEmail(email)
	if u == nil {
		return nil, notFound("get_by_email")
	}
	return clone(u), nil
}

// UpdateFullName implements account.UserRepository.
func (s *MemoryStore) UpdateFullName(_ context.Context, id ulid.ULID, fullName string) (*account.User, error) {
	if err := s.fault("update_full_name"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, notFound("update_full_name")
	}
	u.FullName = fullName
	return clone(u), nil
}

// UpdatePassword implements account.UserRepository.
func (s *MemoryStore) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	if err := s.fault("update_password"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("update_password")
	}
	u.PasswordHash = passwordHash
	return nil
}

// RecordLogin implements account.UserRepository.
func (s *MemoryStore) RecordLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	if err := s.fault("record_login"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("record_login")
	}
	u.LastLogin = &at
	return nil
}

// SetPremium implements account.UserRepository.
func (s *MemoryStore) SetPremium(_ context.Context, id ulid.ULID, tier string, maxChats int) (*account.User, error) {
	if err := s.fault("set_premium"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, notFound("set_premium")
	}
	u.IsPremium = true
	if u.SubscriptionType != account.TierAdmin {
		u.SubscriptionType = tier
	}
	u.MaxChats = maxChats
	return clone(u), nil
}

// ConsumeChat implements account.UsageRepository.
func (s *MemoryStore) ConsumeChat(_ context.Context, id ulid.ULID) (account.Usage, bool, error) {
	if err := s.fault("consume_chat"); err != nil {
		return account.Usage{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || (!u.IsPremium && u.ChatCount >= u.MaxChats) {
		return account.Usage{}, false, nil
	}
	u.ChatCount++
	return u.Usage(), true, nil
}

// GetUsage implements account.UsageRepository.
func (s *MemoryStore) GetUsage(_ context.Context, id ulid.ULID) (account.Usage, error) {
	if err := s.fault("get_usage"); err != nil {
		return account.Usage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return account.Usage{}, notFound("get_usage")
	}
	return u.Usage(), nil
}

// ResetUsage implements account.UsageRepository.
func (s *MemoryStore) ResetUsage(_ context.Context, id ulid.ULID) error {
	if err := s.fault("reset_usage"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("reset_usage")
	}
	u.ChatCount = 0
	return nil
}

// ResetFreeTrial implements account.UsageRepository.
func (s *MemoryStore) ResetFreeTrial(_ context.Context, id ulid.ULID, maxChats int) error {
	if err := s.fault("reset_free_trial"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("reset_free_trial")
	}
	u.ChatCount = 0
	u.MaxChats = maxChats
	u.IsPremium = false
	u.SubscriptionType = account.TierFreeTrial
	return nil
}

// SetResetToken implements account.ResetTokenRepository.
func (s *MemoryStore) SetResetToken(_ context.Context, id ulid.ULID, digest string, expires time.Time) error {
	if err := s.fault("set_reset_token"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("set_reset_token")
	}
	u.ResetToken = &digest
	u.ResetTokenExpires = &expires
	return nil
}

// ConsumeResetToken implements account.ResetTokenRepository.
func (s *MemoryStore) ConsumeResetToken(_ context.Context, digest, passwordHash string, now time.Time) (ulid.ULID, error) {
	if err := s.fault("consume_reset_token"); err != nil {
		return ulid.ULID{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findByDigest(digest)
	if u == nil || !u.ResetTokenExpires.After(now) {
		return ulid.ULID{}, notFound("consume_reset_token")
	}
	u.PasswordHash = passwordHash
	u.ResetToken = nil
	u.ResetTokenExpires = nil
	return u.ID, nil
}

// GetResetTokenExpiry implements account.ResetTokenRepository.
func (s *MemoryStore) GetResetTokenExpiry(_ context.Context, digest string) (time.Time, error) {
	if err := s.fault("get_reset_token_expiry"); err != nil {
		return time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findByDigest(digest)
	if u == nil {
		return time.Time{}, notFound("get_reset_token_expiry")
	}
	return *u.ResetTokenExpires, nil
}

// ClearResetToken implements account.ResetTokenRepository.
func (s *MemoryStore) ClearResetToken(_ context.Context, digest string) error {
	if err := s.fault("clear_reset_token"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.findByDigest(digest); u != nil {
		u.ResetToken = nil
		u.ResetTokenExpires = nil
	}
	return nil
}

// RecordTurn implements account.SessionRepository.
func (s *MemoryStore) RecordTurn(_ context.Context, rec account.TurnRecord) error {
	if err := s.fault("record_turn"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[rec.UserID]; !ok {
		return notFound("record_turn")
	}
	key := sessionKey{userID: rec.UserID, chatID: rec.ChatID}
	if sess, ok := s.sessions[key]; ok {
		sess.MessageCount++
		if rec.At.After(sess.LastActivity) {
			sess.LastActivity = rec.At
		}
	} else {
		s.sessions[key] = &account.ChatSession{
			ID:           rec.SessionID,
			UserID:       rec.UserID,
			ChatID:       rec.ChatID,
			Title:        rec.Title,
			MessageCount: 1,
			CreatedAt:    rec.At,
			LastActivity: rec.At,
		}
	}
	for _, m := range s.messages[key] {
		if m.ID == rec.MessageID {
			return nil
		}
	}
	s.messages[key] = append(s.messages[key], &account.ChatMessage{
		ID:        rec.MessageID,
		ChatID:    rec.ChatID,
		Question:  rec.Turn.Question,
		Response:  rec.Turn.Response,
		CreatedAt: rec.At,
	})
	return nil
}

// ListMessages implements account.SessionRepository.
func (s *MemoryStore) ListMessages(_ context.Context, userID ulid.ULID, chatID string) ([]*account.ChatMessage, error) {
	if err := s.fault("list_messages"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.messages[sessionKey{userID: userID, chatID: chatID}]
	out := make([]*account.ChatMessage, 0, len(stored))
	for _, m := range stored {
		c := *m
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListByUser implements account.SessionRepository.
func (s *MemoryStore) ListByUser(_ context.Context, userID ulid.ULID) ([]*account.ChatSession, error) {
	if err := s.fault("list_sessions"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*account.ChatSession, 0)
	for key, sess := range s.sessions {
		if key.userID == userID {
			c := *sess
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

// ListAll implements account.SessionRepository.
func (s *MemoryStore) ListAll(_ context.Context, limit int) ([]*account.SessionOverview, error) {
	if err := s.fault("list_all_sessions"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*account.SessionOverview, 0, len(s.sessions))
	for key, sess := range s.sessions {
		u := s.users[key.userID]
		out = append(out, &account.SessionOverview{ChatSession: *sess, Email: u.Email, FullName: u.FullName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// User returns a copy of the stored user, including secrets, or nil.
func (s *MemoryStore) User(id ulid.ULID) *account.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return clone(u)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ account.UserRepository       = (*MemoryStore)(nil)
	_ account.UsageRepository      = (*MemoryStore)(nil)
	_ account.ResetTokenRepository = (*MemoryStore)(nil)
	_ account.SessionRepository    = (*MemoryStore)(nil)
)
