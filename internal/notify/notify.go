// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

// Package notify delivers password reset links.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/samber/oops"

	"github.com/chatgate/chatgate/internal/account"
)

// ResetPath is appended to the base URL to build reset links.
const ResetPath = "/reset-password"

// EmailSender is the part of *sesv2.Client the notifier uses.
type EmailSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Settings configures an SESNotifier.
type Settings struct {
	From     string
	FromName string
	Region   string
	BaseURL  string
	TokenTTL time.Duration
}

// SESNotifier emails reset links through Amazon SES v2.
type SESNotifier struct {
	client   EmailSender
	settings Settings
	logger   *slog.Logger
}

// NewSESNotifier loads the default AWS credential chain and creates a
// notifier. An empty region defers to the chain.
func NewSESNotifier(ctx context.Context, settings Settings, logger *slog.Logger) (*SESNotifier, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if settings.Region != "" {
		opts = append(opts, awsconfig.WithRegion(settings.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, oops.Code("NOTIFY_INIT_FAILED").With("region", settings.Region).Wrap(err)
	}
	return NewSESNotifierWithClient(sesv2.NewFromConfig(cfg), settings, logger)
}

// NewSESNotifierWithClient creates a notifier over an existing client.
func NewSESNotifierWithClient(client EmailSender, settings Settings, logger *slog.Logger) (*SESNotifier, error) {
	if client == nil {
		return nil, oops.Errorf("email client is required")
	}
	if settings.From == "" {
		return nil, oops.Code("NOTIFY_INIT_FAILED").Errorf("sender address is required")
	}
	if _, err := url.Parse(settings.BaseURL); err != nil || settings.BaseURL == "" {
		return nil, oops.Code("NOTIFY_INIT_FAILED").With("base_url", settings.BaseURL).Errorf("base url is invalid")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SESNotifier{client: client, settings: settings, logger: logger}, nil
}

// ResetLink builds the link a user follows to choose a new password.
func ResetLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + ResetPath + "?token=" + url.QueryEscape(token)
}

// SendPasswordReset implements account.ResetNotifier.
func (n *SESNotifier) SendPasswordReset(ctx context.Context, user *account.User, token string) error {
	link := ResetLink(n.settings.BaseURL, token)
	name := user.FullName
	if name == "" {
		name = user.Email
	}
	validity := formatValidity(n.settings.TokenTTL)

	from := n.settings.From
	if n.settings.FromName != "" {
		from = fmt.Sprintf("%s <%s>", n.settings.FromName, n.settings.From)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{user.Email},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String("Reset your password"),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(htmlBody(name, link, validity)),
						Charset: aws.String("UTF-8"),
					},
					Text: &types.Content{
						Data:    aws.String(textBody(name, link, validity)),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	out, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").With("user_id", user.ID.String()).Wrap(err)
	}

	attrs := []any{"user_id", user.ID.String()}
	if out != nil && out.MessageId != nil {
		attrs = append(attrs, "message_id", *out.MessageId)
	}
	n.logger.InfoContext(ctx, "password reset email sent", attrs...)
	return nil
}

func formatValidity(ttl time.Duration) string {
	switch {
	case ttl <= 0:
		return "a short time"
	case ttl == time.Hour:
		return "1 hour"
	case ttl%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(ttl/time.Hour))
	default:
		return fmt.Sprintf("%d minutes", int(ttl.Round(time.Minute)/time.Minute))
	}
}

func textBody(name, link, validity string) string {
	return fmt.Sprintf(`Hi %s,

We received a request to reset your chatgate password.

Follow the link below to choose a new password:
%s

This link expires in %s and can be used once.

If you didn't request a password reset, you can ignore this email.
`, name, link, validity)
}

func htmlBody(name, link, validity string) string {
	name = html.EscapeString(name)
	link = html.EscapeString(link)
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
	<p>Hi %s,</p>
	<p>We received a request to reset your chatgate password.</p>
	<p><a href="%s">Reset password</a></p>
	<p style="word-break: break-all; font-size: 12px; color: #666;">%s</p>
	<p><strong>This link expires in %s and can be used once.</strong></p>
	<p>If you didn't request a password reset, you can ignore this email.</p>
</body>
</html>
`, name, link, link, validity)
}

// LogNotifier records that a reset was requested without delivering it.
// It is used when no sender address is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendPasswordReset implements account.ResetNotifier. The token is never logged.
func (n *LogNotifier) SendPasswordReset(ctx context.Context, user *account.User, _ string) error {
	n.logger.InfoContext(ctx, "password reset requested, email delivery disabled",
		"user_id", user.ID.String())
	return nil
}

var (
	_ account.ResetNotifier = (*SESNotifier)(nil)
	_ account.ResetNotifier = (*LogNotifier)(nil)
)
