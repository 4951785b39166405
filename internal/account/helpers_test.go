// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package account_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// plainHasher is a fast PasswordHasher for flow tests.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Verify(password, encoded string) (bool, error) {
	return encoded == "plain:"+password, nil
}

func (plainHasher) NeedsUpgrade(string) bool { return false }

// logEntry is the subset of a JSON log line the tests inspect.
type logEntry struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	UserID    string `json:"user_id"`
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
}

// syncBuffer is a bytes.Buffer safe for the tracker worker goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func logEntries(t *testing.T, buf *syncBuffer) []logEntry {
	t.Helper()
	var entries []logEntry
	sc := bufio.NewScanner(strings.NewReader(buf.String()))
	for sc.Scan() {
		var e logEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	return entries
}

func findLog(entries []logEntry, msg string) (logEntry, bool) {
	for _, e := range entries {
		if e.Msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

// fixedClock returns a clock reading *now.
func fixedClock(now *time.Time) func() time.Time {
	return func() time.Time { return *now }
}
