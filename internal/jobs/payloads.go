package jobs

import "time"

// EmailTokenPayload is shared by all three mail job types: it carries the
// recipient plus the uid/token pair embedded in the confirmation link.
type EmailTokenPayload struct {
	UserID      int64     `json:"user_id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	Token       string    `json:"token"`
	RequestedAt time.Time `json:"requested_at"`
}
