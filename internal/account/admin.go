// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package account

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// AdminMatcher decides whether an email address belongs to an administrator.
type AdminMatcher interface {
	IsAdmin(email string) bool
}

// GlobAdminMatcher matches emails against case-insensitive glob patterns
// such as "ops@example.com" or "*@staff.example.com".
type GlobAdminMatcher struct {
	patterns []glob.Glob
}

// NewGlobAdminMatcher compiles patterns. An empty list matches nothing.
func NewGlobAdminMatcher(patterns []string) (*GlobAdminMatcher, error) {
	m := &GlobAdminMatcher{patterns: make([]glob.Glob, 0, len(patterns))}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, oops.Code("ADMIN_PATTERN_INVALID").With("pattern", p).Wrap(err)
		}
		m.patterns = append(m.patterns, g)
	}
	return m, nil
}

// IsAdmin reports whether email matches any pattern.
func (m *GlobAdminMatcher) IsAdmin(email string) bool {
	if m == nil {
		return false
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, g := range m.patterns {
		if g.Match(email) {
			return true
		}
	}
	return false
}

type noAdmins struct{}

func (noAdmins) IsAdmin(string) bool { return false }
