package mail

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// LogMailer writes the confirmation links to the log instead of dispatching
// real mail. The link paths mirror what the frontend serves.
type LogMailer struct {
	frontendURL string
	log         *slog.Logger
}

func NewLogMailer(frontendURL string, log *slog.Logger) *LogMailer {
	return &LogMailer{frontendURL: frontendURL, log: log}
}

func (m *LogMailer) SendActivationEmail(ctx context.Context, msg Message) error {
	return m.send(ctx, "activation", m.frontendURL+"/activation/"+msg.UID+"/"+msg.Token, msg)
}

func (m *LogMailer) SendPasswordResetEmail(ctx context.Context, msg Message) error {
	return m.send(ctx, "password_reset", m.frontendURL+"/password-reset/"+msg.UID+"/"+msg.Token, msg)
}

func (m *LogMailer) SendEmailResetEmail(ctx context.Context, msg Message) error {
	return m.send(ctx, "email_reset", m.frontendURL+"/email-reset/"+msg.UID+"/"+msg.Token, msg)
}

func (m *LogMailer) send(ctx context.Context, kind, link string, msg Message) error {
	// Optional: simulate a slow provider
	if msStr := os.Getenv("MAILER_SLEEP_MS"); msStr != "" {
		ms, _ := strconv.Atoi(msStr)
		if ms > 0 {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	// Optional: simulate a provider outage
	if os.Getenv("MAILER_FAIL") == "1" {
		return fmt.Errorf("provider down (simulated)")
	}

	m.log.InfoContext(ctx, "mail.dispatch",
		"kind", kind,
		"email", msg.Email,
		"link", link,
	)
	return nil
}
