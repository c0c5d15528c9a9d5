package model

import "time"

// MessageTemplate is the text sent for one touch kind. The newest template
// of a kind is the active one.
type MessageTemplate struct {
	ID            int64     `db:"id"`
	Text          string    `db:"text"`
	IsSecondTouch bool      `db:"is_second_touch"`
	CreatedAt     time.Time `db:"created_at"`
}

func (t MessageTemplate) Kind() TouchKind { return KindOf(t.IsSecondTouch) }
