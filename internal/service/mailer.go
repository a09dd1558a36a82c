package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Mail templates.
const (
	MailTemplateGroupInvite = "group_invite"
)

// Mailer sends templated e-mail.
type Mailer interface {
	Send(ctx context.Context, template, recipient string, data map[string]string) error
}

// LogMailer is a basic provider that only logs outgoing mail.
type LogMailer struct {
	logger zerolog.Logger
}

// NewLogMailer constructs a logging mailer.
func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With().Str("component", "mailer").Logger()}
}

// Send logs the mail and returns nil to indicate success.
func (l *LogMailer) Send(ctx context.Context, template, recipient string, data map[string]string) error {
	event := l.logger.Info().Str("template", template).Str("recipient", maskEmailAddress(recipient))
	if groupID, ok := data["group_id"]; ok {
		event = event.Str("group_id", groupID)
	}
	event.Msg("mail queued for delivery")
	return nil
}

func maskEmailAddress(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return ""
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" {
		return "***"
	}
	local := parts[0]
	domain := parts[1]
	if len(local) <= 2 {
		local = local[:1] + "***"
	} else {
		local = local[:1] + "***" + local[len(local)-1:]
	}
	return local + "@" + domain
}
