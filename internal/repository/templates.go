package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
)

func (r *mysqlTx) ActiveTemplate(ctx context.Context, kind model.TouchKind) (*model.MessageTemplate, error) {
	var t model.MessageTemplate
	err := r.tx.GetContext(ctx, &t, `
		SELECT id, text, is_second_touch, created_at
		  FROM message_templates
		 WHERE is_second_touch = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1
	`, kind == model.TouchSecond)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *mysqlTx) GetTemplate(ctx context.Context, id int64) (*model.MessageTemplate, error) {
	var t model.MessageTemplate
	err := r.tx.GetContext(ctx, &t, `SELECT id, text, is_second_touch, created_at FROM message_templates WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *mysqlTx) CreateTemplate(ctx context.Context, t *model.MessageTemplate) error {
	t.CreatedAt = stamp(t.CreatedAt)
	res, err := r.tx.ExecContext(ctx, `
		INSERT INTO message_templates (text, is_second_touch, created_at) VALUES (?, ?, ?)
	`, t.Text, t.IsSecondTouch, t.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}
