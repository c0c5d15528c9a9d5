package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
)

// Store runs fn inside one transaction. fn's error rolls everything back.
// Lookups return (nil, nil) when the row does not exist.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of repositories bound to a single transaction.
type Tx interface {
	ContactsRepository
	TemplatesRepository
	ScheduleRepository
	StateRepository
	EnrollmentsRepository
}

// LockSchedule takes the provider state row lock. Every transaction that
// writes schedule entries or contacts calls it first, so it serialises with
// the ban sweeps and reads rows committed before the lock was granted.
func LockSchedule(ctx context.Context, tx Tx) (model.ProviderState, error) {
	st, err := tx.GetProviderState(ctx)
	if err != nil {
		return model.ProviderState{}, fmt.Errorf("lock provider state: %w", err)
	}
	return st, nil
}

type ContactsRepository interface {
	GetContact(ctx context.Context, id int64) (*model.Contact, error)
	GetContactByExternalID(ctx context.Context, externalID string) (*model.Contact, error)
	// CreateContact inserts c and sets c.ID.
	CreateContact(ctx context.Context, c *model.Contact) error
	UpdateContact(ctx context.Context, c model.Contact) error
}

type TemplatesRepository interface {
	// ActiveTemplate returns the most recently created template of kind.
	ActiveTemplate(ctx context.Context, kind model.TouchKind) (*model.MessageTemplate, error)
	GetTemplate(ctx context.Context, id int64) (*model.MessageTemplate, error)
	CreateTemplate(ctx context.Context, t *model.MessageTemplate) error
}

// EntryFilter narrows ListEntries. Zero value lists unsent entries only.
type EntryFilter struct {
	IncludeSent bool
	ContactID   int64
	Limit       int
}

type ScheduleRepository interface {
	CreateEntry(ctx context.Context, e model.ScheduleEntry) error
	// UpdateEntry writes an unsent entry. A sent entry is final: the write
	// is dropped, so a sweep working from a stale read cannot reopen it.
	UpdateEntry(ctx context.Context, e model.ScheduleEntry) error
	GetEntry(ctx context.Context, id string) (*model.ScheduleEntry, error)

	// ListUnsent returns every unsent entry ordered by scheduled time.
	ListUnsent(ctx context.Context) ([]model.ScheduleEntry, error)
	// EarliestDue returns the earliest unsent entry of kind scheduled at or before now.
	EarliestDue(ctx context.Context, kind model.TouchKind, now time.Time) (*model.ScheduleEntry, error)
	// LastUnsent returns the latest scheduled unsent entry of kind.
	LastUnsent(ctx context.Context, kind model.TouchKind) (*model.ScheduleEntry, error)
	HasUnsent(ctx context.Context, contactID int64) (bool, error)
	// NextUnsentAfter returns the earliest unsent scheduled time strictly after now.
	NextUnsentAfter(ctx context.Context, now time.Time) (*time.Time, error)
	CountDue(ctx context.Context, now time.Time) (int, error)
	ListEntries(ctx context.Context, f EntryFilter) ([]model.ScheduleEntry, error)
}

type StateRepository interface {
	GetSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
	// GetProviderState returns the zero state when the row is missing. SQL
	// stores lock the row until the transaction ends.
	GetProviderState(ctx context.Context) (model.ProviderState, error)
	SaveProviderState(ctx context.Context, s model.ProviderState) error
}

type EnrollmentsRepository interface {
	// CreateEnrollment inserts e and sets e.ID.
	CreateEnrollment(ctx context.Context, e *model.PendingEnrollment) error
	// ListPendingEnrollments returns unprocessed enrollments oldest first.
	ListPendingEnrollments(ctx context.Context, limit int) ([]model.PendingEnrollment, error)
	MarkEnrollmentProcessed(ctx context.Context, id int64, at time.Time) error
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
