package model

import "time"

// Contact is a campaign recipient. Responded only ever flips false -> true.
type Contact struct {
	ID              int64      `db:"id"`
	ExternalID      string     `db:"external_id"`
	DisplayName     string     `db:"display_name"`
	Responded       bool       `db:"responded"`
	RespondedAt     *time.Time `db:"responded_at"`      // nullable
	LastMessageTime *time.Time `db:"last_message_time"` // nullable
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}
