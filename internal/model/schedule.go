package model

import "time"

type Outcome string

const (
	OutcomeNone             Outcome = ""
	OutcomeDelivered        Outcome = "delivered"
	OutcomeSuppressed       Outcome = "suppressed"
	OutcomeInvalidRecipient Outcome = "invalid_recipient"
)

func (o Outcome) String() string { return string(o) }

func (o Outcome) Valid() bool {
	return o == OutcomeNone || o == OutcomeDelivered || o == OutcomeSuppressed || o == OutcomeInvalidRecipient
}

// ScheduleEntry is one planned touch for a contact.
// OriginalScheduledTime is only set while a ban shift is in effect.
type ScheduleEntry struct {
	ID                    string     `db:"id"` // ULID
	ContactID             int64      `db:"contact_id"`
	TemplateID            int64      `db:"template_id"`
	Kind                  TouchKind  `db:"touch_kind"`
	ScheduledTime         time.Time  `db:"scheduled_time"`
	OriginalScheduledTime *time.Time `db:"original_scheduled_time"`
	Sent                  bool       `db:"sent"`
	SentAt                *time.Time `db:"sent_at"`
	Outcome               Outcome    `db:"outcome"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

// MarkSent closes the entry with a terminal outcome.
func (e *ScheduleEntry) MarkSent(at time.Time, o Outcome) {
	at = at.UTC()
	e.Sent = true
	e.SentAt = &at
	e.Outcome = o
	e.OriginalScheduledTime = nil
}

// ScheduledTimes returns the scheduled times of entries accepted by keep.
func ScheduledTimes(entries []ScheduleEntry, keep func(ScheduleEntry) bool) []time.Time {
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		if keep == nil || keep(e) {
			out = append(out, e.ScheduledTime)
		}
	}
	return out
}
