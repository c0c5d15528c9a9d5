package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
)

// settingsRow keeps durations as whole minutes, the unit operators edit.
type settingsRow struct {
	MessageIntervalMin  int64     `db:"message_interval_min"`
	BanFreezeMin        int64     `db:"ban_freeze_min"`
	SecondTouchDelayMin int64     `db:"second_touch_delay_min"`
	WorkingHoursStart   int       `db:"working_hours_start"`
	WorkingHoursEnd     int       `db:"working_hours_end"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (r *mysqlTx) GetSettings(ctx context.Context) (*model.Settings, error) {
	var row settingsRow
	err := r.tx.GetContext(ctx, &row, `
		SELECT message_interval_min, ban_freeze_min, second_touch_delay_min,
		       working_hours_start, working_hours_end, updated_at
		  FROM settings
		 WHERE id = 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.Settings{
		MessageInterval:   time.Duration(row.MessageIntervalMin) * time.Minute,
		BanFreeze:         time.Duration(row.BanFreezeMin) * time.Minute,
		SecondTouchDelay:  time.Duration(row.SecondTouchDelayMin) * time.Minute,
		WorkingHoursStart: row.WorkingHoursStart,
		WorkingHoursEnd:   row.WorkingHoursEnd,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}

func (r *mysqlTx) SaveSettings(ctx context.Context, s model.Settings) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO settings
		    (id, message_interval_min, ban_freeze_min, second_touch_delay_min, working_hours_start, working_hours_end, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		    message_interval_min = VALUES(message_interval_min),
		    ban_freeze_min = VALUES(ban_freeze_min),
		    second_touch_delay_min = VALUES(second_touch_delay_min),
		    working_hours_start = VALUES(working_hours_start),
		    working_hours_end = VALUES(working_hours_end),
		    updated_at = VALUES(updated_at)
	`, int64(s.MessageInterval/time.Minute), int64(s.BanFreeze/time.Minute), int64(s.SecondTouchDelay/time.Minute),
		s.WorkingHoursStart, s.WorkingHoursEnd, stamp(s.UpdatedAt))
	return err
}

func (r *mysqlTx) GetProviderState(ctx context.Context) (model.ProviderState, error) {
	var st model.ProviderState
	err := r.tx.GetContext(ctx, &st, `
		SELECT banned, banned_until, updated_at
		  FROM provider_state
		 WHERE id = 1
		 FOR UPDATE
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ProviderState{}, nil
	}
	return st, err
}

func (r *mysqlTx) SaveProviderState(ctx context.Context, s model.ProviderState) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO provider_state (id, banned, banned_until, updated_at)
		VALUES (1, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		    banned = VALUES(banned),
		    banned_until = VALUES(banned_until),
		    updated_at = VALUES(updated_at)
	`, s.Banned, s.BannedUntil, stamp(s.UpdatedAt))
	return err
}
