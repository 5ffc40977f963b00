// Package mail delivers account e-mails. Only a logging sender exists for now;
// an SMTP-backed Sender can be dropped in behind the same interface.
package mail

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"ainopay/internal/log"
)

// Sender delivers a password-reset link to an address.
type Sender interface {
	SendPasswordReset(ctx context.Context, to, link string) error
}

// ResetLink builds the front-end URL a user follows to choose a new password.
func ResetLink(frontendURL, token string) string {
	return strings.TrimRight(frontendURL, "/") + "/auth/reset-password?token=" + url.QueryEscape(token)
}

// LogSender writes the message to the log instead of sending it.
type LogSender struct {
	logger *log.Logger
}

func NewLogSender(logger *log.Logger) *LogSender {
	if logger == nil {
		logger = log.Discard()
	}
	return &LogSender{logger: logger.WithComponent(log.ComponentMail)}
}

func (s *LogSender) SendPasswordReset(ctx context.Context, to, link string) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("send password reset: empty recipient")
	}
	s.logger.InfoContext(ctx, "Password reset e-mail",
		"to", to,
		"subject", "Reset Your Password",
		"link", link)
	return nil
}
