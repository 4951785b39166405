// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package account

import (
	"log/slog"
	"time"
)

// Option configures a service.
type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
	admins AdminMatcher
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides time.Now, mainly for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithAdminMatcher enables automatic admin promotion for matching emails.
func WithAdminMatcher(m AdminMatcher) Option {
	return func(o *options) {
		if m != nil {
			o.admins = m
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
		admins: noAdmins{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
