// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chatgate/chatgate/internal/account"
	accountpg "github.com/chatgate/chatgate/internal/account/postgres"
	"github.com/chatgate/chatgate/internal/api"
	"github.com/chatgate/chatgate/internal/chatengine"
	"github.com/chatgate/chatgate/internal/facade"
	"github.com/chatgate/chatgate/internal/store"
	"github.com/chatgate/chatgate/internal/token"
)

const maxFreeChats = 3

// testEnv holds the containers and the running stack.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	pgC       testcontainers.Container
	redisC    testcontainers.Container
	pool      *pgxpool.Pool
	redis     *redis.Client
	engine    *httptest.Server
	tracker   *account.ChatSessionTracker
	apiServer *api.Server
	baseURL   string
}

var env *testEnv

var _ = BeforeSuite(func() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	env = &testEnv{ctx: ctx, cancel: cancel}
	logger := slog.New(slog.NewTextHandler(GinkgoWriter, &slog.HandlerOptions{Level: slog.LevelWarn}))

	pgC, err := postgres.Run(ctx,
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
	Expect(err).NotTo(HaveOccurred())
	env.pgC = pgC

	connStr, err := pgC.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())

	migrator, err := store.NewMigrator(connStr)
	Expect(err).NotTo(HaveOccurred())
	Expect(migrator.Up()).To(Succeed())
	Expect(migrator.Close()).To(Succeed())

	env.pool, err = store.NewPool(ctx, connStr, store.PoolConfig{MaxConns: 16})
	Expect(err).NotTo(HaveOccurred())

	redisC, err := tcredis.Run(ctx, "redis:7-alpine")
	Expect(err).NotTo(HaveOccurred())
	env.redisC = redisC
	redisURI, err := redisC.ConnectionString(ctx)
	Expect(err).NotTo(HaveOccurred())
	redisOpts, err := redis.ParseURL(redisURI)
	Expect(err).NotTo(HaveOccurred())
	env.redis = redis.NewClient(redisOpts)

	env.engine = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ChatID string `json:"chat_id"`
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "echo: " + req.Prompt})
	}))

	policy := account.DefaultPolicy()
	policy.DefaultMaxChats = maxFreeChats
	matcher, err := account.NewGlobAdminMatcher([]string{"*@staff.example.com"})
	Expect(err).NotTo(HaveOccurred())
	opts := []account.Option{account.WithLogger(logger), account.WithAdminMatcher(matcher)}

	users := accountpg.NewUserRepository(env.pool)
	hasher := account.NewArgon2idHasher()

	creds, err := account.NewCredentialStore(users, hasher, policy, opts...)
	Expect(err).NotTo(HaveOccurred())
	quota, err := account.NewQuotaEnforcer(users, policy, opts...)
	Expect(err).NotTo(HaveOccurred())
	resets, err := account.NewPasswordResetFlow(users, users, hasher, nil, policy, opts...)
	Expect(err).NotTo(HaveOccurred())
	env.tracker, err = account.NewChatSessionTracker(accountpg.NewSessionRepository(env.pool),
		account.DefaultTrackerConfig(), opts...)
	Expect(err).NotTo(HaveOccurred())
	tokens, err := token.NewService([]byte(strings.Repeat("i", 32)), time.Hour,
		token.WithRevoker(token.NewRedisRevoker(env.redis)),
		token.WithLogger(logger))
	Expect(err).NotTo(HaveOccurred())
	engine, err := chatengine.NewHTTPEngine(env.engine.URL, 5*time.Second)
	Expect(err).NotTo(HaveOccurred())

	f, err := facade.New(facade.Deps{
		Credentials: creds,
		Tokens:      tokens,
		Quota:       quota,
		Resets:      resets,
		Sessions:    env.tracker,
		Engine:      engine,
	}, facade.WithLogger(logger), facade.WithDebug(true))
	Expect(err).NotTo(HaveOccurred())

	env.apiServer, err = api.NewServer("127.0.0.1:0", f, api.WithLogger(logger))
	Expect(err).NotTo(HaveOccurred())
	_, err = env.apiServer.Start()
	Expect(err).NotTo(HaveOccurred())
	env.baseURL = "http://" + env.apiServer.Addr()
})

var _ = AfterSuite(func() {
	if env == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if env.apiServer != nil {
		_ = env.apiServer.Stop(ctx)
	}
	if env.tracker != nil {
		_ = env.tracker.Close(ctx)
	}
	if env.engine != nil {
		env.engine.Close()
	}
	if env.redis != nil {
		_ = env.redis.Close()
	}
	if env.pool != nil {
		env.pool.Close()
	}
	if env.redisC != nil {
		_ = env.redisC.Terminate(ctx)
	}
	if env.pgC != nil {
		_ = env.pgC.Terminate(ctx)
	}
	env.cancel()
})

type response struct {
	status int
	body   map[string]any
}

func call(method, path, bearer string, payload any) response {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(env.ctx, method, env.baseURL+path, body)
	Expect(err).NotTo(HaveOccurred())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	out := response{status: resp.StatusCode, body: map[string]any{}}
	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	if len(raw) > 0 && raw[0] == '{' {
		Expect(json.Unmarshal(raw, &out.body)).To(Succeed())
	}
	return out
}

func errorCode(r response) string {
	detail, _ := r.body["error"].(map[string]any)
	code, _ := detail["code"].(string)
	return code
}

func uniqueEmail(prefix string) string {
	return prefix + "-" + strings.ToLower(ulid.Make().String()) + "@example.com"
}

func register(email, password string) string {
	r := call(http.MethodPost, "/auth/register", "", map[string]string{"email": email, "password": password})
	Expect(r.status).To(Equal(http.StatusCreated), "%v", r.body)
	return r.body["access_token"].(string)
}

var _ = Describe("chatgate end to end", func() {
	Describe("free trial quota", func() {
		It("denies the chat after the allowance and resumes after an upgrade", func() {
			tok := register(uniqueEmail("quota"), "pw123")

			for i := 0; i < maxFreeChats; i++ {
				r := call(http.MethodPost, "/chat", tok, map[string]string{"message": "hi", "chat_id": "c1"})
				Expect(r.status).To(Equal(http.StatusOK), "%v", r.body)
				Expect(r.body["response"]).To(Equal("echo: hi"))
			}

			r := call(http.MethodPost, "/chat", tok, map[string]string{"message": "hi", "chat_id": "c1"})
			Expect(r.status).To(Equal(http.StatusTooManyRequests))
			Expect(errorCode(r)).To(Equal(facade.CodeQuotaExceeded))

			r = call(http.MethodPost, "/auth/upgrade", tok, map[string]string{})
			Expect(r.status).To(Equal(http.StatusOK))

			r = call(http.MethodPost, "/chat", tok, map[string]string{"message": "again", "chat_id": "c1"})
			Expect(r.status).To(Equal(http.StatusOK))

			Eventually(func() float64 {
				list := call(http.MethodGet, "/auth/chats", tok, nil)
				chats, _ := list.body["chats"].([]any)
				if len(chats) != 1 {
					return 0
				}
				count, _ := chats[0].(map[string]any)["message_count"].(float64)
				return count
			}).WithTimeout(10 * time.Second).Should(Equal(float64(maxFreeChats + 1)))
		})

		It("never lets concurrent chats overshoot the allowance", func() {
			tok := register(uniqueEmail("race"), "pw123")

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				allowed int
			)
			for i := 0; i < 12; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					r := call(http.MethodPost, "/chat", tok, map[string]string{"message": "burst"})
					if r.status == http.StatusOK {
						mu.Lock()
						allowed++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			Expect(allowed).To(Equal(maxFreeChats))

			r := call(http.MethodGet, "/auth/chat-limit", tok, nil)
			Expect(r.body["chat_count"]).To(Equal(float64(maxFreeChats)))
			Expect(r.body["can_chat"]).To(BeFalse())
		})
	})

	Describe("session tokens", func() {
		It("rejects a token after logout through the Redis revocation list", func() {
			tok := register(uniqueEmail("logout"), "pw123")
			Expect(call(http.MethodGet, "/auth/verify", tok, nil).status).To(Equal(http.StatusOK))

			Expect(call(http.MethodPost, "/auth/logout", tok, nil).status).To(Equal(http.StatusOK))

			r := call(http.MethodGet, "/auth/profile", tok, nil)
			Expect(r.status).To(Equal(http.StatusUnauthorized))
			Expect(errorCode(r)).To(Equal(facade.CodeTokenInvalid))

			keys, err := env.redis.Keys(env.ctx, "revoked:jti:*").Result()
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).NotTo(BeEmpty())
		})
	})

	Describe("password reset", func() {
		It("replaces the password once per token", func() {
			email := uniqueEmail("reset")
			register(email, "old-pass")

			r := call(http.MethodPost, "/auth/password/forgot", "", map[string]string{"email": email})
			Expect(r.status).To(Equal(http.StatusOK))
			resetToken, _ := r.body["reset_token"].(string)
			Expect(resetToken).NotTo(BeEmpty())

			payload := map[string]string{"reset_token": resetToken, "new_password": "new-pass"}
			Expect(call(http.MethodPost, "/auth/password/reset", "", payload).status).To(Equal(http.StatusOK))
			again := call(http.MethodPost, "/auth/password/reset", "", payload)
			Expect(errorCode(again)).To(Equal(facade.CodeResetTokenInvalid))

			login := call(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": "old-pass"})
			Expect(login.status).To(Equal(http.StatusUnauthorized))
			login = call(http.MethodPost, "/auth/login", "", map[string]string{"email": strings.ToUpper(email), "password": "new-pass"})
			Expect(login.status).To(Equal(http.StatusOK))
		})
	})

	Describe("administration", func() {
		It("lets an admin-pattern account reset another user's usage", func() {
			adminTok := register("ops-"+strings.ToLower(ulid.Make().String())+"@staff.example.com", "pw123")
			memberEmail := uniqueEmail("member")
			memberTok := register(memberEmail, "pw123")

			profile := call(http.MethodGet, "/auth/profile", memberTok, nil)
			memberID := profile.body["id"].(string)
			Expect(call(http.MethodPost, "/chat", memberTok, map[string]string{"message": "hi"}).status).To(Equal(http.StatusOK))

			denied := call(http.MethodPost, "/admin/users/"+memberID+"/reset-usage", memberTok, nil)
			Expect(denied.status).To(Equal(http.StatusForbidden))

			r := call(http.MethodPost, "/admin/users/"+memberID+"/reset-usage", adminTok, nil)
			Expect(r.status).To(Equal(http.StatusOK), "%v", r.body)
			quota := r.body["quota"].(map[string]any)
			Expect(quota["chat_count"]).To(Equal(float64(0)))

			Eventually(func() int {
				list := call(http.MethodGet, "/admin/chats?limit=50", adminTok, nil)
				chats, _ := list.body["chats"].([]any)
				return len(chats)
			}).WithTimeout(10 * time.Second).Should(BeNumerically(">=", 1))
		})

		It("keeps the admin tier across an upgrade", func() {
			adminTok := register("lead-"+strings.ToLower(ulid.Make().String())+"@staff.example.com", "pw123")

			r := call(http.MethodPost, "/auth/upgrade", adminTok, map[string]string{"subscription_type": "premium"})
			Expect(r.status).To(Equal(http.StatusOK), "%v", r.body)
			user, _ := r.body["user"].(map[string]any)
			Expect(user["subscription_type"]).To(Equal("admin"))

			Expect(call(http.MethodGet, "/admin/chats", adminTok, nil).status).To(Equal(http.StatusOK))
		})
	})

	Describe("chat transcripts", func() {
		It("stores every turn and titles the chat after the first question", func() {
			adminTok := register("audit-"+strings.ToLower(ulid.Make().String())+"@staff.example.com", "pw123")
			tok := register(uniqueEmail("transcript"), "pw123")
			memberID := call(http.MethodGet, "/auth/profile", tok, nil).body["id"].(string)

			first := call(http.MethodPost, "/chat", tok, map[string]string{"message": "which region sold most"})
			Expect(first.status).To(Equal(http.StatusOK))
			chatID := first.body["chat_id"].(string)
			Expect(call(http.MethodPost, "/chat", tok, map[string]string{"message": "thanks", "chat_id": chatID}).status).
				To(Equal(http.StatusOK))

			var messages []any
			Eventually(func() int {
				r := call(http.MethodGet, "/auth/chats/"+chatID, tok, nil)
				messages, _ = r.body["messages"].([]any)
				return len(messages)
			}).WithTimeout(10 * time.Second).Should(Equal(2))
			Expect(messages[0].(map[string]any)["question"]).To(Equal("which region sold most"))
			Expect(messages[1].(map[string]any)["response"]).To(Equal("echo: thanks"))

			chats, _ := call(http.MethodGet, "/auth/chats", tok, nil).body["chats"].([]any)
			Expect(chats).To(HaveLen(1))
			Expect(chats[0].(map[string]any)["title"]).To(Equal("which region sold most"))

			r := call(http.MethodGet, "/admin/chat-messages?user_id="+memberID+"&chat_id="+chatID, adminTok, nil)
			Expect(r.status).To(Equal(http.StatusOK), "%v", r.body)
			Expect(r.body["messages"]).To(HaveLen(2))

			denied := call(http.MethodGet, "/admin/chat-messages?user_id="+memberID+"&chat_id="+chatID, tok, nil)
			Expect(denied.status).To(Equal(http.StatusForbidden))
		})
	})
})
