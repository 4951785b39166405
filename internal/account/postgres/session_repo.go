// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/chatgate/chatgate/internal/account"
)

// SessionRepository implements account.SessionRepository over chat_sessions
// and chat_messages.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// RecordTurn stores one chat turn in a single statement: the session is
// created on its first turn, otherwise message_count and last_activity move
// forward. Re-sending the same MessageID does not duplicate the message.
func (r *SessionRepository) RecordTurn(ctx context.Context, rec account.TurnRecord) error {
	_, err := r.db.Exec(ctx, `
		WITH session AS (
			INSERT INTO chat_sessions (id, user_id, chat_id, title, message_count, created_at, last_activity)
			VALUES ($1, $2, $3, $4, 1, $5, $5)
			ON CONFLICT (user_id, chat_id) DO UPDATE
			SET message_count = chat_sessions.message_count + 1,
			    last_activity = GREATEST(chat_sessions.last_activity, EXCLUDED.last_activity)
			RETURNING id
		)
		INSERT INTO chat_messages (id, session_id, question, response, created_at)
		SELECT $6::text, session.id, $7::text, $8::text, $5::timestamptz FROM session
		ON CONFLICT (id) DO NOTHING
	`, rec.SessionID.String(), rec.UserID.String(), rec.ChatID, rec.Title, rec.At,
		rec.MessageID.String(), rec.Turn.Question, rec.Turn.Response)
	if err != nil {
		return classify(oops.With("operation", "record chat turn").
			With("user_id", rec.UserID.String()).
			With("chat_id", rec.ChatID), err)
	}
	return nil
}

// ListMessages returns the turns of the user's chat, oldest first.
func (r *SessionRepository) ListMessages(ctx context.Context, userID ulid.ULID, chatID string) ([]*account.ChatMessage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT m.id, s.chat_id, m.question, m.response, m.created_at
		FROM chat_messages m
		JOIN chat_sessions s ON s.id = m.session_id
		WHERE s.user_id = $1 AND s.chat_id = $2
		ORDER BY m.created_at, m.id
	`, userID.String(), chatID)
	if err != nil {
		return nil, classify(oops.With("operation", "list chat messages").
			With("user_id", userID.String()).
			With("chat_id", chatID), err)
	}
	defer rows.Close()

	messages := make([]*account.ChatMessage, 0)
	for rows.Next() {
		var (
			m     account.ChatMessage
			idStr string
		)
		if err := rows.Scan(&idStr, &m.ChatID, &m.Question, &m.Response, &m.CreatedAt); err != nil {
			return nil, classify(oops.With("operation", "scan chat message"), err)
		}
		if m.ID, err = ulid.Parse(idStr); err != nil {
			return nil, oops.Code("ACCOUNT_CORRUPT_ID").With("id", idStr).Wrap(err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(oops.With("operation", "iterate chat messages"), err)
	}
	return messages, nil
}

// ListByUser returns the user's sessions, most recent activity first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID ulid.ULID) ([]*account.ChatSession, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, chat_id, title, message_count, created_at, last_activity
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY last_activity DESC
	`, userID.String())
	if err != nil {
		return nil, classify(oops.With("operation", "list chat sessions").With("user_id", userID.String()), err)
	}
	defer rows.Close()

	sessions := make([]*account.ChatSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, classify(oops.With("operation", "scan chat session"), err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(oops.With("operation", "iterate chat sessions"), err)
	}
	return sessions, nil
}

// ListAll returns up to limit sessions across users with owner details.
func (r *SessionRepository) ListAll(ctx context.Context, limit int) ([]*account.SessionOverview, error) {
	rows, err := r.db.Query(ctx, `
		SELECT s.id, s.user_id, s.chat_id, s.title, s.message_count, s.created_at, s.last_activity,
		       u.email, u.full_name
		FROM chat_sessions s
		JOIN users u ON u.id = s.user_id
		ORDER BY s.last_activity DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, classify(oops.With("operation", "list all chat sessions"), err)
	}
	defer rows.Close()

	overviews := make([]*account.SessionOverview, 0)
	for rows.Next() {
		var (
			o             account.SessionOverview
			idStr, userID string
		)
		if err := rows.Scan(&idStr, &userID, &o.ChatID, &o.Title, &o.MessageCount, &o.CreatedAt, &o.LastActivity,
			&o.Email, &o.FullName); err != nil {
			return nil, classify(oops.With("operation", "scan chat session overview"), err)
		}
		if err := parseSessionIDs(&o.ChatSession, idStr, userID); err != nil {
			return nil, err
		}
		overviews = append(overviews, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(oops.With("operation", "iterate chat session overviews"), err)
	}
	return overviews, nil
}

func scanSession(rows pgx.Rows) (*account.ChatSession, error) {
	var (
		s             account.ChatSession
		idStr, userID string
	)
	if err := rows.Scan(&idStr, &userID, &s.ChatID, &s.Title, &s.MessageCount, &s.CreatedAt, &s.LastActivity); err != nil {
		return nil, err
	}
	if err := parseSessionIDs(&s, idStr, userID); err != nil {
		return nil, err
	}
	return &s, nil
}

func parseSessionIDs(s *account.ChatSession, idStr, userID string) error {
	var err error
	if s.ID, err = ulid.Parse(idStr); err != nil {
		return oops.Code("ACCOUNT_CORRUPT_ID").With("id", idStr).Wrap(err)
	}
	if s.UserID, err = ulid.Parse(userID); err != nil {
		return oops.Code("ACCOUNT_CORRUPT_ID").With("user_id", userID).Wrap(err)
	}
	return nil
}

var _ account.SessionRepository = (*SessionRepository)(nil)
