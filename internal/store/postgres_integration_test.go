// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chatgate/chatgate/internal/store"
)

// setupPostgresContainer starts PostgreSQL and applies every migration.
func setupPostgresContainer() (*pgxpool.Pool, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("chatgate_test"),
		postgres.WithUsername("chatgate"),
		postgres.WithPassword("chatgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		return nil, nil, err
	}
	_ = migrator.Close()

	pool, err := store.NewPool(ctx, connStr, store.PoolConfig{MaxConns: 4})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
	return pool, cleanup, nil
}

func insertUser(ctx context.Context, pool *pgxpool.Pool, email string, chatCount, maxChats int) (string, error) {
	id := ulid.Make().String()
	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, full_name, chat_count, max_chats, is_premium, subscription_type, created_at)
		VALUES ($1, $2, 'hash', 'Test User', $3, $4, FALSE, 'free_trial', NOW())
	`, id, email, chatCount, maxChats)
	return id, err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var _ = Describe("Schema", func() {
	var (
		pool    *pgxpool.Pool
		cleanup func()
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		pool, cleanup, err = setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		if cleanup != nil {
			cleanup()
		}
	})

	Describe("users", func() {
		It("rejects emails differing only by case", func() {
			_, err := insertUser(ctx, pool, "a@x.com", 0, 10)
			Expect(err).NotTo(HaveOccurred())

			_, err = insertUser(ctx, pool, "A@X.COM", 0, 10)
			Expect(pgCode(err)).To(Equal(pgerrcode.UniqueViolation))
		})

		It("rejects a free-trial counter above its limit", func() {
			_, err := insertUser(ctx, pool, "over@x.com", 4, 3)
			Expect(pgCode(err)).To(Equal(pgerrcode.CheckViolation))
		})

		It("requires a reset token and its expiry together", func() {
			id, err := insertUser(ctx, pool, "pair@x.com", 0, 10)
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx, `UPDATE users SET reset_token = 'digest' WHERE id = $1`, id)
			Expect(pgCode(err)).To(Equal(pgerrcode.CheckViolation))
		})
	})

	Describe("chat_sessions", func() {
		It("cascades deletes from users", func() {
			id, err := insertUser(ctx, pool, "cascade@x.com", 0, 10)
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx, `
				INSERT INTO chat_sessions (id, user_id, chat_id, message_count, created_at, last_activity)
				VALUES ($1, $2, 'chat-1', 1, NOW(), NOW())
			`, ulid.Make().String(), id)
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
			Expect(err).NotTo(HaveOccurred())

			var n int
			Expect(pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_sessions WHERE user_id = $1`, id).Scan(&n)).To(Succeed())
			Expect(n).To(BeZero())
		})

		It("rejects sessions for unknown users", func() {
			_, err := pool.Exec(ctx, `
				INSERT INTO chat_sessions (id, user_id, chat_id, message_count, created_at, last_activity)
				VALUES ($1, $2, 'chat-1', 1, NOW(), NOW())
			`, ulid.Make().String(), ulid.Make().String())
			Expect(pgCode(err)).To(Equal(pgerrcode.ForeignKeyViolation))
		})
	})

	Describe("chat_messages", func() {
		It("cascades deletes from chat sessions", func() {
			id, err := insertUser(ctx, pool, "transcript@x.com", 0, 10)
			Expect(err).NotTo(HaveOccurred())

			sessionID := ulid.Make().String()
			_, err = pool.Exec(ctx, `
				INSERT INTO chat_sessions (id, user_id, chat_id, message_count, title)
				VALUES ($1, $2, 'chat-1', 1, 'hello')
			`, sessionID, id)
			Expect(err).NotTo(HaveOccurred())
			_, err = pool.Exec(ctx, `
				INSERT INTO chat_messages (id, session_id, question, response)
				VALUES ($1, $2, 'hello', 'hi')
			`, ulid.Make().String(), sessionID)
			Expect(err).NotTo(HaveOccurred())

			_, err = pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
			Expect(err).NotTo(HaveOccurred())

			var n int
			Expect(pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_messages WHERE session_id = $1`, sessionID).Scan(&n)).To(Succeed())
			Expect(n).To(BeZero())
		})
	})

	Describe("ReadinessCheck", func() {
		It("reports a reachable database as ready", func() {
			Expect(store.ReadinessCheck(pool, time.Second)()).To(BeTrue())
		})

		It("reports a closed pool as not ready", func() {
			pool.Close()
			Expect(store.ReadinessCheck(pool, time.Second)()).To(BeFalse())
		})
	})
})
