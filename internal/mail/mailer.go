// Package mail implements outgoing mail delivery for verification and
// password-reset links.
package mail

import (
	"context"
	"log/slog"
	"net/url"
)

// LogMailer writes the links it would send to the log instead of delivering
// them. It is the default in development; a real provider slots in behind the
// same interface.
type LogMailer struct {
	// BaseURL is the public backend URL used to build links, e.g.
	// "http://localhost:5000".
	BaseURL string
}

// SendVerification logs the email verification link for the recipient.
func (m *LogMailer) SendVerification(ctx context.Context, email, token string) error {
	slog.Info("verification mail",
		"to", email,
		"link", m.BaseURL+"/auth/verify-email/"+url.PathEscape(token),
	)
	return nil
}

// SendPasswordReset logs the password reset token for the recipient.
func (m *LogMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	slog.Info("password reset mail", "to", email, "token", token)
	return nil
}
