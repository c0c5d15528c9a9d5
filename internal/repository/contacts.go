package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
)

const contactColumns = `id, external_id, display_name, responded, responded_at, last_message_time, created_at, updated_at`

func (r *mysqlTx) GetContact(ctx context.Context, id int64) (*model.Contact, error) {
	var c model.Contact
	err := r.tx.GetContext(ctx, &c, `SELECT `+contactColumns+` FROM contacts WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *mysqlTx) GetContactByExternalID(ctx context.Context, externalID string) (*model.Contact, error) {
	var c model.Contact
	err := r.tx.GetContext(ctx, &c, `
		SELECT `+contactColumns+`
		  FROM contacts
		 WHERE external_id = ? LIMIT 1
	`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *mysqlTx) CreateContact(ctx context.Context, c *model.Contact) error {
	c.CreatedAt = stamp(c.CreatedAt)
	c.UpdatedAt = c.CreatedAt
	res, err := r.tx.ExecContext(ctx, `
		INSERT INTO contacts
		    (external_id, display_name, responded, responded_at, last_message_time, created_at, updated_at)
		VALUES
		    (?,           ?,            ?,         ?,            ?,                 ?,          ?)
	`, c.ExternalID, c.DisplayName, c.Responded, c.RespondedAt, c.LastMessageTime, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

func (r *mysqlTx) UpdateContact(ctx context.Context, c model.Contact) error {
	_, err := r.tx.ExecContext(ctx, `
		UPDATE contacts
		   SET display_name = ?, responded = ?, responded_at = ?, last_message_time = ?, updated_at = ?
		 WHERE id = ?
	`, c.DisplayName, c.Responded, c.RespondedAt, c.LastMessageTime, stamp(c.UpdatedAt), c.ID)
	return err
}
