package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/ban"
	"github.com/jmehdipour/outreach-scheduler/internal/guard"
	"github.com/jmehdipour/outreach-scheduler/internal/metrics"
	"github.com/jmehdipour/outreach-scheduler/internal/model"
	"github.com/jmehdipour/outreach-scheduler/internal/repository"
	"github.com/jmehdipour/outreach-scheduler/internal/schedule"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GuardName is the exclusivity key of dispatch passes.
const GuardName = "dispatch"

var ErrNoSettings = errors.New("settings missing")

type Config struct {
	Concurrency  int           // parallel touch kinds per tick
	MaxIdleSleep time.Duration // upper bound of NextWake
	MinSleep     time.Duration // lower bound of NextWake
}

// Result summarises one tick.
type Result struct {
	Processed   int  // entries closed this tick (delivered, suppressed, invalid)
	RateLimited bool // the provider throttled us and a ban was entered
	Skipped     bool // outside hours or banned
}

// Dispatcher sends at most one due entry per touch kind per tick.
type Dispatcher struct {
	store    repository.Store
	provider Provider
	coord    *ban.Coordinator
	guard    guard.Guard
	params   schedule.Params
	cfg      Config
	log      *zap.Logger
}

func NewDispatcher(
	store repository.Store,
	provider Provider,
	coord *ban.Coordinator,
	g guard.Guard,
	params schedule.Params,
	cfg Config,
	log *zap.Logger,
) *Dispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = len(model.TouchKinds)
	}
	if cfg.MaxIdleSleep <= 0 {
		cfg.MaxIdleSleep = 3 * time.Minute
	}
	if cfg.MinSleep <= 0 {
		cfg.MinSleep = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{store: store, provider: provider, coord: coord, guard: g, params: params, cfg: cfg, log: log}
}

// Tick dispatches the earliest due entry of every touch kind.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) (Result, error) {
	now = now.UTC()

	var skip bool
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		st, err := repository.LockSchedule(ctx, tx)
		if err != nil {
			return err
		}
		s, err := tx.GetSettings(ctx)
		if err != nil {
			return fmt.Errorf("get settings: %w", err)
		}
		if s == nil {
			return ErrNoSettings
		}
		if !schedule.WindowFrom(*s, d.params.Location).Contains(now) {
			skip = true
			return nil
		}

		switch {
		case st.Blocking(now):
			skip = true
		case st.Elapsed(now):
			_, err = d.coord.Expire(ctx, tx, now)
		}
		return err
	})
	if err != nil || skip {
		return Result{Skipped: skip}, err
	}

	release, err := d.guard.TryAcquire(ctx, GuardName)
	if err != nil {
		return Result{}, err
	}
	defer release()

	var (
		processed   atomic.Int32
		rateLimited atomic.Bool
		g           errgroup.Group
	)
	g.SetLimit(d.cfg.Concurrency)
	for _, kind := range model.TouchKinds {
		kind := kind
		g.Go(func() error {
			id, err := d.earliestDue(ctx, kind, now)
			if err != nil || id == "" {
				return err
			}
			out, limited, err := d.dispatchEntry(ctx, now, id)
			if err != nil {
				return fmt.Errorf("dispatch %s touch %s: %w", kind, id, err)
			}
			if out != model.OutcomeNone {
				processed.Add(1)
			}
			if limited {
				rateLimited.Store(true)
			}
			return nil
		})
	}
	err = g.Wait()

	return Result{Processed: int(processed.Load()), RateLimited: rateLimited.Load()}, err
}

func (d *Dispatcher) earliestDue(ctx context.Context, kind model.TouchKind, now time.Time) (string, error) {
	var id string
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		e, err := tx.EarliestDue(ctx, kind, now)
		if e != nil {
			id = e.ID
		}
		return err
	})
	return id, err
}

// dispatchEntry sends one entry and records the outcome. The send runs
// outside any transaction; the entry is re-read under the schedule lock
// before the result is applied, so neither a concurrent close nor a ban
// sweep is overwritten. A sent entry is a no-op.
func (d *Dispatcher) dispatchEntry(ctx context.Context, now time.Time, id string) (model.Outcome, bool, error) {
	var (
		outcome   model.Outcome
		recipient string
		text      string
		kind      model.TouchKind
	)
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := repository.LockSchedule(ctx, tx); err != nil {
			return err
		}
		e, err := tx.GetEntry(ctx, id)
		if err != nil || e == nil || e.Sent {
			return err
		}
		kind = e.Kind

		contact, err := tx.GetContact(ctx, e.ContactID)
		if err != nil {
			return fmt.Errorf("get contact: %w", err)
		}
		if contact == nil {
			outcome = model.OutcomeInvalidRecipient
			e.MarkSent(now, outcome)
			return tx.UpdateEntry(ctx, *e)
		}
		if e.Kind == model.TouchSecond && contact.Responded {
			outcome = model.OutcomeSuppressed
			e.MarkSent(now, outcome)
			return tx.UpdateEntry(ctx, *e)
		}

		tpl, err := tx.GetTemplate(ctx, e.TemplateID)
		if err != nil {
			return fmt.Errorf("get template: %w", err)
		}
		if tpl == nil {
			return fmt.Errorf("template %d missing", e.TemplateID)
		}
		recipient, text = contact.ExternalID, tpl.Text
		return nil
	})
	if err != nil || recipient == "" {
		if outcome != model.OutcomeNone {
			d.record(outcome.String(), kind)
			d.log.Info("touch closed without send", zap.String("entry_id", id), zap.String("outcome", outcome.String()))
		}
		return outcome, false, err
	}

	sendErr := d.provider.Send(ctx, recipient, text)
	out := OutcomeOf(sendErr)

	err = d.store.InTx(ctx, func(tx repository.Tx) error {
		outcome = model.OutcomeNone
		if _, err := repository.LockSchedule(ctx, tx); err != nil {
			return err
		}
		e, err := tx.GetEntry(ctx, id)
		if err != nil || e == nil || e.Sent {
			return err
		}

		switch out.Result {
		case model.SendSent:
			outcome = model.OutcomeDelivered
			e.MarkSent(now, outcome)
			if err := tx.UpdateEntry(ctx, *e); err != nil {
				return err
			}
			contact, err := tx.GetContact(ctx, e.ContactID)
			if err != nil || contact == nil {
				return err
			}
			contact.LastMessageTime = &now
			contact.UpdatedAt = now
			return tx.UpdateContact(ctx, *contact)
		case model.SendInvalidRecipient:
			outcome = model.OutcomeInvalidRecipient
			e.MarkSent(now, outcome)
			return tx.UpdateEntry(ctx, *e)
		case model.SendRateLimited:
			_, err := d.coord.RateLimited(ctx, tx, now, out.RetryAfter)
			return err
		default:
			return nil
		}
	})
	if err != nil {
		return model.OutcomeNone, false, err
	}

	label := out.Result.String()
	if outcome != model.OutcomeNone {
		label = outcome.String()
	}
	d.record(label, kind)

	fields := []zap.Field{
		zap.String("entry_id", id),
		zap.String("kind", kind.String()),
		zap.String("recipient", recipient),
		zap.String("result", label),
	}
	switch out.Result {
	case model.SendSent:
		d.log.Info("touch delivered", fields...)
	case model.SendInvalidRecipient:
		d.log.Warn("recipient rejected", append(fields, zap.String("detail", out.Detail))...)
	case model.SendRateLimited:
		d.log.Warn("provider rate limited", append(fields, zap.Duration("retry_after", out.RetryAfter))...)
	default:
		d.log.Warn("send failed, retrying next tick", append(fields, zap.String("detail", out.Detail))...)
	}
	return outcome, out.Result == model.SendRateLimited, nil
}

func (d *Dispatcher) record(outcome string, kind model.TouchKind) {
	metrics.TouchesTotal.WithLabelValues(outcome, kind.String()).Inc()
}

// NextWake returns when the loop should tick again: the next scheduled
// entry, or one interval from now while a due backlog remains, bounded by
// MinSleep and MaxIdleSleep.
func (d *Dispatcher) NextWake(ctx context.Context, now time.Time) (time.Time, error) {
	now = now.UTC()
	wake := now.Add(d.cfg.MaxIdleSleep)
	earlier := func(t time.Time) {
		if t.After(now) && t.Before(wake) {
			wake = t
		}
	}

	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		s, err := tx.GetSettings(ctx)
		if err != nil || s == nil {
			return err
		}
		w := schedule.WindowFrom(*s, d.params.Location)
		if !w.Contains(now) {
			earlier(w.Clamp(now))
		}

		st, err := tx.GetProviderState(ctx)
		if err != nil {
			return err
		}
		if st.Blocking(now) {
			earlier(st.Until())
		}

		next, err := tx.NextUnsentAfter(ctx, now)
		if err != nil {
			return err
		}
		if next != nil {
			earlier(*next)
		}

		due, err := tx.CountDue(ctx, now)
		if err != nil {
			return err
		}
		if due > 0 {
			earlier(now.Add(s.MessageInterval))
		}
		return nil
	})
	if err != nil {
		return now.Add(d.cfg.MinSleep), err
	}

	if wake.Sub(now) < d.cfg.MinSleep {
		wake = now.Add(d.cfg.MinSleep)
	}
	return wake, nil
}
