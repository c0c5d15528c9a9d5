package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
)

const entryColumns = `id, contact_id, template_id, touch_kind, scheduled_time, original_scheduled_time,
	sent, sent_at, outcome, created_at, updated_at`

func (r *mysqlTx) CreateEntry(ctx context.Context, e model.ScheduleEntry) error {
	e.CreatedAt = stamp(e.CreatedAt)
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO schedule_entries
		    (id, contact_id, template_id, touch_kind, scheduled_time, original_scheduled_time,
		     sent, sent_at, outcome, created_at, updated_at)
		VALUES
		    (?,  ?,          ?,           ?,          ?,              ?,
		     ?,    ?,       ?,       ?,          ?)
	`, e.ID, e.ContactID, e.TemplateID, e.Kind.String(), e.ScheduledTime.UTC(), e.OriginalScheduledTime,
		e.Sent, e.SentAt, e.Outcome.String(), e.CreatedAt, e.CreatedAt)
	return err
}

func (r *mysqlTx) UpdateEntry(ctx context.Context, e model.ScheduleEntry) error {
	_, err := r.tx.ExecContext(ctx, `
		UPDATE schedule_entries
		   SET scheduled_time = ?, original_scheduled_time = ?, sent = ?, sent_at = ?, outcome = ?, updated_at = ?
		 WHERE id = ? AND sent = FALSE
	`, e.ScheduledTime.UTC(), e.OriginalScheduledTime, e.Sent, e.SentAt, e.Outcome.String(), stamp(e.UpdatedAt), e.ID)
	return err
}

func (r *mysqlTx) GetEntry(ctx context.Context, id string) (*model.ScheduleEntry, error) {
	return r.getEntry(ctx, `SELECT `+entryColumns+` FROM schedule_entries WHERE id = ?`, id)
}

func (r *mysqlTx) ListUnsent(ctx context.Context) ([]model.ScheduleEntry, error) {
	var out []model.ScheduleEntry
	err := r.tx.SelectContext(ctx, &out, `
		SELECT `+entryColumns+`
		  FROM schedule_entries
		 WHERE sent = FALSE
		 ORDER BY scheduled_time, id
	`)
	return out, err
}

func (r *mysqlTx) EarliestDue(ctx context.Context, kind model.TouchKind, now time.Time) (*model.ScheduleEntry, error) {
	return r.getEntry(ctx, `
		SELECT `+entryColumns+`
		  FROM schedule_entries
		 WHERE sent = FALSE AND touch_kind = ? AND scheduled_time <= ?
		 ORDER BY scheduled_time, id
		 LIMIT 1
	`, kind.String(), now.UTC())
}

func (r *mysqlTx) LastUnsent(ctx context.Context, kind model.TouchKind) (*model.ScheduleEntry, error) {
	return r.getEntry(ctx, `
		SELECT `+entryColumns+`
		  FROM schedule_entries
		 WHERE sent = FALSE AND touch_kind = ?
		 ORDER BY scheduled_time DESC, id DESC
		 LIMIT 1
	`, kind.String())
}

func (r *mysqlTx) HasUnsent(ctx context.Context, contactID int64) (bool, error) {
	var n int
	err := r.tx.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM schedule_entries WHERE contact_id = ? AND sent = FALSE
	`, contactID)
	return n > 0, err
}

func (r *mysqlTx) NextUnsentAfter(ctx context.Context, now time.Time) (*time.Time, error) {
	var t sql.NullTime
	err := r.tx.GetContext(ctx, &t, `
		SELECT MIN(scheduled_time) FROM schedule_entries WHERE sent = FALSE AND scheduled_time > ?
	`, now.UTC())
	if err != nil || !t.Valid {
		return nil, err
	}
	v := t.Time.UTC()
	return &v, nil
}

func (r *mysqlTx) CountDue(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.tx.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM schedule_entries WHERE sent = FALSE AND scheduled_time <= ?
	`, now.UTC())
	return n, err
}

func (r *mysqlTx) ListEntries(ctx context.Context, f EntryFilter) ([]model.ScheduleEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM schedule_entries WHERE 1 = 1`
	var args []any
	if !f.IncludeSent {
		q += ` AND sent = FALSE`
	}
	if f.ContactID > 0 {
		q += ` AND contact_id = ?`
		args = append(args, f.ContactID)
	}
	q += ` ORDER BY scheduled_time, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var out []model.ScheduleEntry
	err := r.tx.SelectContext(ctx, &out, q, args...)
	return out, err
}

func (r *mysqlTx) getEntry(ctx context.Context, q string, args ...any) (*model.ScheduleEntry, error) {
	var e model.ScheduleEntry
	err := r.tx.GetContext(ctx, &e, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
