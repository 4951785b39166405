// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package account

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// MaxChatIDLength bounds externally supplied chat identifiers.
const MaxChatIDLength = 128

// MaxTitleLength bounds a session title, in characters.
const MaxTitleLength = 50

// ChatSession counts the messages of one conversation. Title is the first
// question asked in it.
type ChatSession struct {
	ID           ulid.ULID `json:"id"`
	UserID       ulid.ULID `json:"user_id"`
	ChatID       string    `json:"chat_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// ChatTurn is one prompt and the reply it got.
type ChatTurn struct {
	Question string
	Response string
}

// ChatMessage is a stored ChatTurn.
type ChatMessage struct {
	ID        ulid.ULID `json:"id"`
	ChatID    string    `json:"chat_id"`
	Question  string    `json:"question"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnRecord is what the tracker hands to SessionRepository.RecordTurn.
// SessionID is used only when the session does not exist yet.
type TurnRecord struct {
	SessionID ulid.ULID
	MessageID ulid.ULID
	UserID    ulid.ULID
	ChatID    string
	Title     string
	Turn      ChatTurn
	At        time.Time
}

// SessionTitle derives a session title from its first question.
func SessionTitle(question string) string {
	title := strings.Join(strings.Fields(question), " ")
	if runes := []rune(title); len(runes) > MaxTitleLength {
		title = string(runes[:MaxTitleLength])
	}
	return title
}

// SessionOverview is a ChatSession joined with its owner, for admin listings.
type SessionOverview struct {
	ChatSession
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// ValidateChatID checks an externally supplied chat identifier.
func ValidateChatID(chatID string) error {
	if strings.TrimSpace(chatID) == "" || len(chatID) > MaxChatIDLength {
		return oops.Code(CodeInvalidInput).
			With("field", "chat_id").
			Wrapf(ErrInvalidInput, "chat id must be 1-%d characters", MaxChatIDLength)
	}
	return nil
}

// Tracker failure reasons passed to TrackerConfig.OnFailure.
const (
	TrackerFailureDropped   = "dropped"
	TrackerFailureExhausted = "exhausted"
)

// TrackerConfig tunes the asynchronous bookkeeping worker.
type TrackerConfig struct {
	// Attempts is the total number of tries per message, including the first.
	Attempts uint64

	// BaseDelay is the first backoff interval; later ones double.
	BaseDelay time.Duration

	// QueueSize bounds pending records. Records beyond it are dropped.
	QueueSize int

	// Timeout bounds one record including retries.
	Timeout time.Duration

	// OnFailure, if set, is called once per record that was not persisted.
	OnFailure func(reason string)
}

// DefaultTrackerConfig returns the built-in worker settings.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Attempts:  3,
		BaseDelay: 100 * time.Millisecond,
		QueueSize: 256,
		Timeout:   10 * time.Second,
	}
}

type sessionEvent struct {
	ctx    context.Context
	userID ulid.ULID
	chatID string
	msgID  ulid.ULID
	turn   ChatTurn
	at     time.Time
}

// ChatSessionTracker records chat turns and per-conversation message
// counts. Recording is asynchronous and best-effort: failures are retried
// with backoff, then logged, and never reach the caller.
type ChatSessionTracker struct {
	sessions SessionRepository
	cfg      TrackerConfig
	opts     options

	mu     sync.RWMutex
	closed bool
	queue  chan sessionEvent
	done   chan struct{}
}

// NewChatSessionTracker creates a tracker and starts its worker. Call Close
// to drain pending records and stop the worker.
func NewChatSessionTracker(sessions SessionRepository, cfg TrackerConfig, opts ...Option) (*ChatSessionTracker, error) {
	if sessions == nil {
		return nil, oops.Errorf("session repository is required")
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultTrackerConfig().BaseDelay
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultTrackerConfig().QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTrackerConfig().Timeout
	}

	t := &ChatSessionTracker{
		sessions: sessions,
		cfg:      cfg,
		opts:     buildOptions(opts),
		queue:    make(chan sessionEvent, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	go t.run()
	return t, nil
}

// RecordMessage enqueues one turn for (userID, chatID). It never blocks
// on the datastore and never fails; a full queue drops the record.
func (t *ChatSessionTracker) RecordMessage(ctx context.Context, userID ulid.ULID, chatID string, turn ChatTurn) {
	ev := sessionEvent{
		ctx:    context.WithoutCancel(ctx),
		userID: userID,
		chatID: chatID,
		msgID:  ulid.Make(),
		turn:   turn,
		at:     t.opts.now().UTC(),
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.fail(ctx, ev, TrackerFailureDropped, oops.Errorf("tracker closed"))
		return
	}
	select {
	case t.queue <- ev:
	default:
		t.fail(ctx, ev, TrackerFailureDropped, oops.Errorf("tracker queue full"))
	}
}

// Close stops accepting records and waits for pending ones until ctx ends.
func (t *ChatSessionTracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return oops.With("operation", "drain session tracker").Wrap(ctx.Err())
	}
}

// ListSessions returns the user's chat sessions, most recent first.
func (t *ChatSessionTracker) ListSessions(ctx context.Context, userID ulid.ULID) ([]*ChatSession, error) {
	sessions, err := t.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, oops.With("operation", "list sessions").With("user_id", userID.String()).Wrap(err)
	}
	return sessions, nil
}

// ListAllSessions returns up to limit sessions across all users.
func (t *ChatSessionTracker) ListAllSessions(ctx context.Context, limit int) ([]*SessionOverview, error) {
	if limit <= 0 {
		limit = 100
	}
	sessions, err := t.sessions.ListAll(ctx, limit)
	if err != nil {
		return nil, oops.With("operation", "list all sessions").Wrap(err)
	}
	return sessions, nil
}

// ListMessages returns the turns of one of the user's chats, oldest first.
// A chat the user does not own reads as empty.
func (t *ChatSessionTracker) ListMessages(ctx context.Context, userID ulid.ULID, chatID string) ([]*ChatMessage, error) {
	if err := ValidateChatID(chatID); err != nil {
		return nil, err
	}
	messages, err := t.sessions.ListMessages(ctx, userID, chatID)
	if err != nil {
		return nil, oops.With("operation", "list chat messages").
			With("user_id", userID.String()).
			With("chat_id", chatID).
			Wrap(err)
	}
	return messages, nil
}

func (t *ChatSessionTracker) run() {
	defer close(t.done)
	for ev := range t.queue {
		t.record(ev)
	}
}

func (t *ChatSessionTracker) record(ev sessionEvent) {
	ctx, cancel := context.WithTimeout(ev.ctx, t.cfg.Timeout)
	defer cancel()

	rec := TurnRecord{
		SessionID: ulid.Make(),
		MessageID: ev.msgID,
		UserID:    ev.userID,
		ChatID:    ev.chatID,
		Title:     SessionTitle(ev.turn.Question),
		Turn:      ev.turn,
		At:        ev.at,
	}
	backoff := retry.WithMaxRetries(t.cfg.Attempts-1, retry.NewExponential(t.cfg.BaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := t.sessions.RecordTurn(ctx, rec)
		if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		t.fail(ctx, ev, TrackerFailureExhausted, err)
	}
}

func (t *ChatSessionTracker) fail(ctx context.Context, ev sessionEvent, reason string, err error) {
	t.opts.logger.WarnContext(ctx, "best-effort chat session bookkeeping failed",
		"user_id", ev.userID.String(),
		"chat_id", ev.chatID,
		"operation", "record_message",
		"reason", reason,
		"error", err)
	if t.cfg.OnFailure != nil {
		t.cfg.OnFailure(reason)
	}
}
