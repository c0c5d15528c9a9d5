package model

import "time"

// PendingEnrollment is a queued contact waiting for its two touches.
type PendingEnrollment struct {
	ID          int64      `db:"id"`
	ExternalID  string     `db:"external_id"`
	DisplayName string     `db:"display_name"`
	CreatedAt   time.Time  `db:"created_at"`
	Processed   bool       `db:"processed"`
	ProcessedAt *time.Time `db:"processed_at"` // nullable
}
