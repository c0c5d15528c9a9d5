package repository

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
)

var ErrDuplicateKey = errors.New("duplicate key")

// MemoryStore is an in-process Store for development and tests.
// Transactions are serialised behind one mutex and roll back by restoring a
// snapshot taken at begin.
type MemoryStore struct {
	mu   sync.Mutex
	data memData
}

type memData struct {
	contacts    map[int64]model.Contact
	templates   []model.MessageTemplate
	entries     map[string]model.ScheduleEntry
	enrollments []model.PendingEnrollment
	settings    *model.Settings
	state       model.ProviderState

	seq int64
}

func (d memData) clone() memData {
	c := d
	c.contacts = maps.Clone(d.contacts)
	c.entries = maps.Clone(d.entries)
	c.templates = slices.Clone(d.templates)
	c.enrollments = slices.Clone(d.enrollments)
	if d.settings != nil {
		s := *d.settings
		c.settings = &s
	}
	return c
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: memData{
		contacts: map[int64]model.Contact{},
		entries:  map[string]model.ScheduleEntry{},
	}}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.data.clone()
	committed := false
	defer func() {
		if !committed {
			s.data = snap
		}
	}()

	if err := fn(&memTx{d: &s.data}); err != nil {
		return err
	}
	committed = true
	return nil
}

type memTx struct {
	d *memData
}

var _ Tx = (*memTx)(nil)

func (t *memTx) next() int64 {
	t.d.seq++
	return t.d.seq
}

// ---- contacts ----

func (t *memTx) GetContact(_ context.Context, id int64) (*model.Contact, error) {
	c, ok := t.d.contacts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *memTx) GetContactByExternalID(_ context.Context, externalID string) (*model.Contact, error) {
	for _, c := range t.d.contacts {
		if c.ExternalID == externalID {
			return &c, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateContact(ctx context.Context, c *model.Contact) error {
	if existing, _ := t.GetContactByExternalID(ctx, c.ExternalID); existing != nil {
		return fmt.Errorf("contact %q: %w", c.ExternalID, ErrDuplicateKey)
	}
	c.ID = t.next()
	c.CreatedAt = stamp(c.CreatedAt)
	c.UpdatedAt = c.CreatedAt
	t.d.contacts[c.ID] = *c
	return nil
}

func (t *memTx) UpdateContact(_ context.Context, c model.Contact) error {
	old, ok := t.d.contacts[c.ID]
	if !ok {
		return nil
	}
	c.ExternalID = old.ExternalID
	c.CreatedAt = old.CreatedAt
	c.UpdatedAt = stamp(c.UpdatedAt)
	t.d.contacts[c.ID] = c
	return nil
}

// ---- templates ----

func (t *memTx) ActiveTemplate(_ context.Context, kind model.TouchKind) (*model.MessageTemplate, error) {
	var best *model.MessageTemplate
	for i := range t.d.templates {
		tpl := t.d.templates[i]
		if tpl.Kind() != kind {
			continue
		}
		if best == nil || !tpl.CreatedAt.Before(best.CreatedAt) {
			best = &tpl
		}
	}
	return best, nil
}

func (t *memTx) GetTemplate(_ context.Context, id int64) (*model.MessageTemplate, error) {
	for _, tpl := range t.d.templates {
		if tpl.ID == id {
			return &tpl, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateTemplate(_ context.Context, tpl *model.MessageTemplate) error {
	tpl.ID = t.next()
	tpl.CreatedAt = stamp(tpl.CreatedAt)
	t.d.templates = append(t.d.templates, *tpl)
	return nil
}

// ---- schedule ----

func (t *memTx) CreateEntry(_ context.Context, e model.ScheduleEntry) error {
	if _, ok := t.d.entries[e.ID]; ok {
		return fmt.Errorf("entry %s: %w", e.ID, ErrDuplicateKey)
	}
	if !e.Sent {
		for _, o := range t.d.entries {
			if !o.Sent && o.ContactID == e.ContactID && o.Kind == e.Kind {
				return fmt.Errorf("unsent %s touch for contact %d: %w", e.Kind, e.ContactID, ErrDuplicateKey)
			}
		}
	}
	e.ScheduledTime = e.ScheduledTime.UTC()
	e.CreatedAt = stamp(e.CreatedAt)
	e.UpdatedAt = e.CreatedAt
	t.d.entries[e.ID] = e
	return nil
}

func (t *memTx) UpdateEntry(_ context.Context, e model.ScheduleEntry) error {
	old, ok := t.d.entries[e.ID]
	if !ok || old.Sent {
		return nil
	}
	e.ContactID, e.TemplateID, e.Kind, e.CreatedAt = old.ContactID, old.TemplateID, old.Kind, old.CreatedAt
	e.ScheduledTime = e.ScheduledTime.UTC()
	e.UpdatedAt = stamp(e.UpdatedAt)
	t.d.entries[e.ID] = e
	return nil
}

func (t *memTx) GetEntry(_ context.Context, id string) (*model.ScheduleEntry, error) {
	e, ok := t.d.entries[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (t *memTx) sorted(keep func(model.ScheduleEntry) bool) []model.ScheduleEntry {
	out := make([]model.ScheduleEntry, 0, len(t.d.entries))
	for _, e := range t.d.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b model.ScheduleEntry) int {
		if c := a.ScheduledTime.Compare(b.ScheduledTime); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (t *memTx) ListUnsent(_ context.Context) ([]model.ScheduleEntry, error) {
	return t.sorted(func(e model.ScheduleEntry) bool { return !e.Sent }), nil
}

func (t *memTx) EarliestDue(_ context.Context, kind model.TouchKind, now time.Time) (*model.ScheduleEntry, error) {
	due := t.sorted(func(e model.ScheduleEntry) bool {
		return !e.Sent && e.Kind == kind && !e.ScheduledTime.After(now)
	})
	if len(due) == 0 {
		return nil, nil
	}
	return &due[0], nil
}

func (t *memTx) LastUnsent(_ context.Context, kind model.TouchKind) (*model.ScheduleEntry, error) {
	all := t.sorted(func(e model.ScheduleEntry) bool { return !e.Sent && e.Kind == kind })
	if len(all) == 0 {
		return nil, nil
	}
	return &all[len(all)-1], nil
}

func (t *memTx) HasUnsent(_ context.Context, contactID int64) (bool, error) {
	for _, e := range t.d.entries {
		if !e.Sent && e.ContactID == contactID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) NextUnsentAfter(_ context.Context, now time.Time) (*time.Time, error) {
	after := t.sorted(func(e model.ScheduleEntry) bool { return !e.Sent && e.ScheduledTime.After(now) })
	if len(after) == 0 {
		return nil, nil
	}
	v := after[0].ScheduledTime
	return &v, nil
}

func (t *memTx) CountDue(_ context.Context, now time.Time) (int, error) {
	return len(t.sorted(func(e model.ScheduleEntry) bool { return !e.Sent && !e.ScheduledTime.After(now) })), nil
}

func (t *memTx) ListEntries(_ context.Context, f EntryFilter) ([]model.ScheduleEntry, error) {
	out := t.sorted(func(e model.ScheduleEntry) bool {
		if !f.IncludeSent && e.Sent {
			return false
		}
		return f.ContactID <= 0 || e.ContactID == f.ContactID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ---- state ----

func (t *memTx) GetSettings(_ context.Context) (*model.Settings, error) {
	if t.d.settings == nil {
		return nil, nil
	}
	s := *t.d.settings
	return &s, nil
}

func (t *memTx) SaveSettings(_ context.Context, s model.Settings) error {
	s.UpdatedAt = stamp(s.UpdatedAt)
	t.d.settings = &s
	return nil
}

func (t *memTx) GetProviderState(_ context.Context) (model.ProviderState, error) {
	return t.d.state, nil
}

func (t *memTx) SaveProviderState(_ context.Context, s model.ProviderState) error {
	s.UpdatedAt = stamp(s.UpdatedAt)
	t.d.state = s
	return nil
}

// ---- enrollments ----

func (t *memTx) CreateEnrollment(_ context.Context, e *model.PendingEnrollment) error {
	e.ID = t.next()
	e.CreatedAt = stamp(e.CreatedAt)
	e.Processed = false
	e.ProcessedAt = nil
	t.d.enrollments = append(t.d.enrollments, *e)
	return nil
}

func (t *memTx) ListPendingEnrollments(_ context.Context, limit int) ([]model.PendingEnrollment, error) {
	var out []model.PendingEnrollment
	for _, e := range t.d.enrollments {
		if e.Processed {
			continue
		}
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b model.PendingEnrollment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) MarkEnrollmentProcessed(_ context.Context, id int64, at time.Time) error {
	for i := range t.d.enrollments {
		if t.d.enrollments[i].ID == id {
			at = at.UTC()
			t.d.enrollments[i].Processed = true
			t.d.enrollments[i].ProcessedAt = &at
		}
	}
	return nil
}
