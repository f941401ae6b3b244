package mail

import "context"

// Message is one account-lifecycle email. UID and Token form the one-time
// confirmation pair embedded in the link.
type Message struct {
	Email     string
	FirstName string
	UID       string
	Token     string
}

// Mailer delivers account-lifecycle emails. Transport is out of scope for the
// API contract, so implementations range from a log sink to a real provider.
type Mailer interface {
	SendActivationEmail(ctx context.Context, msg Message) error
	SendPasswordResetEmail(ctx context.Context, msg Message) error
	SendEmailResetEmail(ctx context.Context, msg Message) error
}
