package ban

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/metrics"
	"github.com/jmehdipour/outreach-scheduler/internal/model"
	"github.com/jmehdipour/outreach-scheduler/internal/repository"
	"github.com/jmehdipour/outreach-scheduler/internal/schedule"
	"go.uber.org/zap"
)

type Transition string

const (
	None   Transition = ""
	Enter  Transition = "enter"
	Extend Transition = "extend"
	Exit   Transition = "exit"
	Expire Transition = "expire"
)

// Coordinator owns the provider ban state machine and the reschedule sweeps
// that go with each transition. Every method runs inside the caller's
// transaction so the state row and the entries change together.
type Coordinator struct {
	params schedule.Params
	log    *zap.Logger
}

func NewCoordinator(params schedule.Params, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{params: params, log: log}
}

// Enter bans the provider until now+d and shifts unsent entries forward.
// A ban already lasting past now+d is left alone; a shorter one is extended
// and entries move by the difference only.
func (c *Coordinator) Enter(ctx context.Context, tx repository.Tx, now time.Time, d time.Duration) (Transition, error) {
	if d <= 0 {
		return None, fmt.Errorf("ban duration must be > 0, got %s", d)
	}
	st, err := tx.GetProviderState(ctx)
	if err != nil {
		return None, fmt.Errorf("get provider state: %w", err)
	}

	newUntil := now.Add(d).UTC()
	tr, shift := Enter, d
	if st.Banned && st.BannedUntil != nil {
		if !st.BannedUntil.Before(newUntil) {
			return None, nil
		}
		tr, shift = Extend, newUntil.Sub(*st.BannedUntil)
	}

	if err := tx.SaveProviderState(ctx, model.ProviderState{Banned: true, BannedUntil: &newUntil, UpdatedAt: now}); err != nil {
		return None, fmt.Errorf("save provider state: %w", err)
	}
	moved, err := c.shift(ctx, tx, shift, newUntil)
	if err != nil {
		return None, err
	}

	c.observe(tr, true)
	c.log.Info("provider banned",
		zap.String("transition", string(tr)),
		zap.Time("banned_until", newUntil),
		zap.Duration("shift", shift),
		zap.Int("entries", moved),
	)
	return tr, nil
}

// Exit lifts the ban on operator request and puts every shifted entry back
// on its pre-ban time.
func (c *Coordinator) Exit(ctx context.Context, tx repository.Tx, now time.Time) (Transition, error) {
	st, err := tx.GetProviderState(ctx)
	if err != nil {
		return None, fmt.Errorf("get provider state: %w", err)
	}

	entries, err := tx.ListUnsent(ctx)
	if err != nil {
		return None, fmt.Errorf("list unsent: %w", err)
	}
	restored := 0
	for _, e := range entries {
		if e.OriginalScheduledTime == nil {
			continue
		}
		e.ScheduledTime = e.OriginalScheduledTime.UTC()
		e.OriginalScheduledTime = nil
		e.UpdatedAt = now
		if err := tx.UpdateEntry(ctx, e); err != nil {
			return None, fmt.Errorf("restore entry %s: %w", e.ID, err)
		}
		restored++
	}

	if err := tx.SaveProviderState(ctx, model.ProviderState{UpdatedAt: now}); err != nil {
		return None, fmt.Errorf("save provider state: %w", err)
	}
	if !st.Banned && restored == 0 {
		return None, nil
	}

	c.observe(Exit, false)
	c.log.Info("provider unbanned", zap.Int("restored", restored))
	return Exit, nil
}

// Expire clears a ban whose freeze has run out. Shifted entries keep their
// new times and lose their snapshots.
func (c *Coordinator) Expire(ctx context.Context, tx repository.Tx, now time.Time) (Transition, error) {
	st, err := tx.GetProviderState(ctx)
	if err != nil {
		return None, fmt.Errorf("get provider state: %w", err)
	}
	if !st.Elapsed(now) {
		return None, nil
	}

	entries, err := tx.ListUnsent(ctx)
	if err != nil {
		return None, fmt.Errorf("list unsent: %w", err)
	}
	for _, e := range entries {
		if e.OriginalScheduledTime == nil {
			continue
		}
		e.OriginalScheduledTime = nil
		e.UpdatedAt = now
		if err := tx.UpdateEntry(ctx, e); err != nil {
			return None, fmt.Errorf("drop snapshot %s: %w", e.ID, err)
		}
	}
	if err := tx.SaveProviderState(ctx, model.ProviderState{UpdatedAt: now}); err != nil {
		return None, fmt.Errorf("save provider state: %w", err)
	}

	c.observe(Expire, false)
	c.log.Info("provider ban expired", zap.Time("banned_until", st.Until()))
	return Expire, nil
}

// Toggle applies an operator write. A ban without a future until uses the
// configured freeze.
func (c *Coordinator) Toggle(ctx context.Context, tx repository.Tx, now time.Time, banned bool, until *time.Time) (Transition, error) {
	if !banned {
		return c.Exit(ctx, tx, now)
	}
	if _, err := repository.LockSchedule(ctx, tx); err != nil {
		return None, err
	}
	s, err := c.settings(ctx, tx)
	if err != nil {
		return None, err
	}
	d := s.BanFreeze
	if until != nil && until.After(now) {
		d = until.Sub(now)
	}
	return c.Enter(ctx, tx, now, d)
}

// RateLimited enters the ban after the provider throttled a send. A zero
// retryAfter falls back to the configured freeze.
func (c *Coordinator) RateLimited(ctx context.Context, tx repository.Tx, now time.Time, retryAfter time.Duration) (Transition, error) {
	d := retryAfter
	if d <= 0 {
		if _, err := repository.LockSchedule(ctx, tx); err != nil {
			return None, err
		}
		s, err := c.settings(ctx, tx)
		if err != nil {
			return None, err
		}
		d = s.BanFreeze
	}
	return c.Enter(ctx, tx, now, d)
}

// shift moves every unsent entry by d. An overdue entry may stay before
// until; dispatch holds it back while the ban blocks. Only entries the
// working window pushes out are re-slotted, once all pure shifts are placed.
func (c *Coordinator) shift(ctx context.Context, tx repository.Tx, d time.Duration, until time.Time) (int, error) {
	s, err := c.settings(ctx, tx)
	if err != nil {
		return 0, err
	}
	alloc := c.params.Allocator(s)

	entries, err := tx.ListUnsent(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unsent: %w", err)
	}

	placed := make([]time.Time, 0, len(entries))
	var misfits []model.ScheduleEntry
	for _, e := range entries {
		if e.OriginalScheduledTime == nil {
			orig := e.ScheduledTime.UTC()
			e.OriginalScheduledTime = &orig
		}
		e.ScheduledTime = e.ScheduledTime.Add(d).UTC()
		if !alloc.Window.Contains(e.ScheduledTime) {
			misfits = append(misfits, e)
			continue
		}
		if err := tx.UpdateEntry(ctx, e); err != nil {
			return 0, fmt.Errorf("shift entry %s: %w", e.ID, err)
		}
		placed = append(placed, e.ScheduledTime)
	}

	for _, e := range misfits {
		desired := e.ScheduledTime
		if desired.Before(until) {
			desired = until
		}
		slot, err := alloc.Allocate(desired, placed)
		if err != nil {
			return 0, fmt.Errorf("re-slot entry %s: %w", e.ID, err)
		}
		e.ScheduledTime = slot
		if err := tx.UpdateEntry(ctx, e); err != nil {
			return 0, fmt.Errorf("re-slot entry %s: %w", e.ID, err)
		}
		placed = append(placed, slot)
	}
	return len(entries), nil
}

func (c *Coordinator) settings(ctx context.Context, tx repository.Tx) (model.Settings, error) {
	s, err := tx.GetSettings(ctx)
	if err != nil {
		return model.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	if s == nil {
		c.log.Warn("settings missing, ban uses defaults")
		return model.DefaultSettings(), nil
	}
	return *s, nil
}

func (c *Coordinator) observe(tr Transition, banned bool) {
	metrics.BanTransitionsTotal.WithLabelValues(string(tr)).Inc()
	metrics.SetBanned(banned)
}
