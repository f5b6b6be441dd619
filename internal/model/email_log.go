package model

import "time"

// EmailLog is an append-only record of a confirmed send.
type EmailLog struct {
	ID     string    `json:"id"`
	UserID string    `json:"user_id"`
	Email  string    `json:"email"`
	Type   EmailType `json:"type"`
	SentAt time.Time `json:"sent_at"`
}
