// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package account

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Denial reasons reported in Decision.Reason.
const (
	ReasonQuotaExhausted = "quota_exhausted"
)

// Decision is the outcome of a check-and-consume.
type Decision struct {
	Allowed bool
	Reason  string
	Usage   Usage
}

// QuotaEnforcer gates chat usage against the per-user allowance.
type QuotaEnforcer struct {
	usage  UsageRepository
	policy Policy
	opts   options
}

// NewQuotaEnforcer creates a QuotaEnforcer.
func NewQuotaEnforcer(usage UsageRepository, policy Policy, opts ...Option) (*QuotaEnforcer, error) {
	if usage == nil {
		return nil, oops.Errorf("usage repository is required")
	}
	if policy.DefaultMaxChats <= 0 {
		return nil, oops.With("default_max_chats", policy.DefaultMaxChats).Errorf("default max chats must be positive")
	}
	return &QuotaEnforcer{usage: usage, policy: policy, opts: buildOptions(opts)}, nil
}

// CheckAndConsume admits one chat for userID and advances its counter.
//
// The check and the increment happen in a single conditional update at the
// datastore, so concurrent callers for the same user can never overshoot
// max_chats. Premium users are always admitted; their counter still advances
// but is never compared to a cap.
func (q *QuotaEnforcer) CheckAndConsume(ctx context.Context, userID ulid.ULID) (Decision, error) {
	usage, ok, err := q.usage.ConsumeChat(ctx, userID)
	if err != nil {
		return Decision{}, oops.With("operation", "consume chat").With("user_id", userID.String()).Wrap(err)
	}
	if ok {
		return Decision{Allowed: true, Usage: usage}, nil
	}

	// No row qualified: either the user is unknown or the allowance is spent.
	usage, err = q.usage.GetUsage(ctx, userID)
	if err != nil {
		return Decision{}, oops.With("operation", "read usage after denial").With("user_id", userID.String()).Wrap(err)
	}

	q.opts.logger.InfoContext(ctx, "chat quota exhausted",
		"user_id", userID.String(),
		"used", usage.Used,
		"limit", usage.Limit)
	return Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("%s: used %d of %d", ReasonQuotaExhausted, usage.Used, usage.Limit),
		Usage:   usage,
	}, nil
}

// Remaining returns the quota snapshot for display.
func (q *QuotaEnforcer) Remaining(ctx context.Context, userID ulid.ULID) (Usage, error) {
	usage, err := q.usage.GetUsage(ctx, userID)
	if err != nil {
		return Usage{}, oops.With("operation", "get usage").With("user_id", userID.String()).Wrap(err)
	}
	return usage, nil
}

// ResetUsage sets the user's chat_count back to zero.
func (q *QuotaEnforcer) ResetUsage(ctx context.Context, userID ulid.ULID) error {
	if err := q.usage.ResetUsage(ctx, userID); err != nil {
		return oops.With("operation", "reset usage").With("user_id", userID.String()).Wrap(err)
	}
	q.opts.logger.InfoContext(ctx, "chat usage reset", "user_id", userID.String())
	return nil
}

// ResetFreeTrial restores a fresh free trial: zero usage, the default
// allowance, and no premium entitlement.
func (q *QuotaEnforcer) ResetFreeTrial(ctx context.Context, userID ulid.ULID) error {
	if err := q.usage.ResetFreeTrial(ctx, userID, q.policy.DefaultMaxChats); err != nil {
		return oops.With("operation", "reset free trial").With("user_id", userID.String()).Wrap(err)
	}
	q.opts.logger.InfoContext(ctx, "free trial reset", "user_id", userID.String())
	return nil
}
