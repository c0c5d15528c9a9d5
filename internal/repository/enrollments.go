package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
)

func (r *mysqlTx) CreateEnrollment(ctx context.Context, e *model.PendingEnrollment) error {
	e.CreatedAt = stamp(e.CreatedAt)
	res, err := r.tx.ExecContext(ctx, `
		INSERT INTO pending_enrollments (external_id, display_name, created_at, processed)
		VALUES (?, ?, ?, FALSE)
	`, e.ExternalID, e.DisplayName, e.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

func (r *mysqlTx) ListPendingEnrollments(ctx context.Context, limit int) ([]model.PendingEnrollment, error) {
	var out []model.PendingEnrollment
	err := r.tx.SelectContext(ctx, &out, `
		SELECT id, external_id, display_name, created_at, processed, processed_at
		  FROM pending_enrollments
		 WHERE processed = FALSE
		 ORDER BY created_at, id
		 LIMIT ?
	`, limit)
	return out, err
}

func (r *mysqlTx) MarkEnrollmentProcessed(ctx context.Context, id int64, at time.Time) error {
	_, err := r.tx.ExecContext(ctx, `
		UPDATE pending_enrollments SET processed = TRUE, processed_at = ? WHERE id = ?
	`, at.UTC(), id)
	return err
}
