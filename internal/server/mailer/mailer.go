// Package mailer delivers verification and password-reset tokens to account
// holders.
package mailer

import (
	"context"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
)

type Mailer interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// LogMailer records delivery events in the log instead of sending mail.
// Token values are not logged.
type LogMailer struct {
	log logging.Logger
}

func NewLogMailer(log logging.Logger) *LogMailer {
	return &LogMailer{log: log.With("component", "mailer")}
}

func (m *LogMailer) SendVerification(ctx context.Context, email, token string) error {
	m.log.Info(ctx, "verification mail queued", "email", email, "token_len", len(token))
	return nil
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	m.log.Info(ctx, "password reset mail queued", "email", email, "token_len", len(token))
	return nil
}
