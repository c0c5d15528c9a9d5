package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/guard"
	"github.com/jmehdipour/outreach-scheduler/internal/metrics"
	"github.com/jmehdipour/outreach-scheduler/internal/model"
	"github.com/jmehdipour/outreach-scheduler/internal/repository"
	"github.com/jmehdipour/outreach-scheduler/internal/schedule"
	"github.com/jmehdipour/outreach-scheduler/internal/util"
	"go.uber.org/zap"
)

// GuardName is the exclusivity key of enrollment passes.
const GuardName = "enrollment"

const defaultBatch = 100

var ErrMisconfigured = errors.New("campaign misconfigured")

type Result string

const (
	ResultScheduled Result = "scheduled"
	ResultDuplicate Result = "duplicate"
	ResultFailed    Result = "failed"
)

// Processor turns pending enrollments into first and second touch entries.
type Processor struct {
	store  repository.Store
	guard  guard.Guard
	params schedule.Params
	batch  int
	log    *zap.Logger
}

func NewProcessor(store repository.Store, g guard.Guard, params schedule.Params, batch int, log *zap.Logger) *Processor {
	if batch <= 0 {
		batch = defaultBatch
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{store: store, guard: g, params: params, batch: batch, log: log}
}

type campaign struct {
	settings model.Settings
	first    model.MessageTemplate
	second   model.MessageTemplate
}

// ProcessPending drains up to one batch of pending enrollments and returns
// how many were consumed. Outside working hours it does nothing; a held
// guard returns guard.ErrLocked.
func (p *Processor) ProcessPending(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()

	release, err := p.guard.TryAcquire(ctx, GuardName)
	if err != nil {
		return 0, err
	}
	defer release()

	var (
		camp  campaign
		items []model.PendingEnrollment
	)
	err = p.store.InTx(ctx, func(tx repository.Tx) error {
		c, err := loadCampaign(ctx, tx)
		if err != nil {
			return err
		}
		camp = c
		if !schedule.WindowFrom(c.settings, p.params.Location).Contains(now) {
			return nil
		}
		items, err = tx.ListPendingEnrollments(ctx, p.batch)
		return err
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		res, err := p.processOne(ctx, now, camp, item)
		if err != nil {
			p.log.Error("enrollment failed",
				zap.Int64("enrollment_id", item.ID),
				zap.String("external_id", item.ExternalID),
				zap.Error(err),
			)
			res = ResultFailed
			if err := p.store.InTx(ctx, func(tx repository.Tx) error {
				return tx.MarkEnrollmentProcessed(ctx, item.ID, now)
			}); err != nil {
				return n, fmt.Errorf("mark enrollment %d processed: %w", item.ID, err)
			}
		}
		metrics.EnrollmentsTotal.WithLabelValues(string(res)).Inc()
		n++
	}

	if n > 0 {
		p.log.Info("enrollments processed", zap.Int("count", n))
	}
	return n, nil
}

func (p *Processor) processOne(ctx context.Context, now time.Time, camp campaign, item model.PendingEnrollment) (Result, error) {
	res := ResultScheduled
	err := p.store.InTx(ctx, func(tx repository.Tx) error {
		st, err := repository.LockSchedule(ctx, tx)
		if err != nil {
			return err
		}
		externalID := util.NormalizeExternalID(item.ExternalID)
		if externalID == "" {
			return errors.New("empty external id")
		}

		contact, err := tx.GetContactByExternalID(ctx, externalID)
		if err != nil {
			return fmt.Errorf("get contact: %w", err)
		}
		if contact != nil {
			busy, err := tx.HasUnsent(ctx, contact.ID)
			if err != nil {
				return fmt.Errorf("check unsent: %w", err)
			}
			if busy {
				res = ResultDuplicate
				p.log.Info("contact already scheduled, skipping", zap.String("external_id", externalID))
				return tx.MarkEnrollmentProcessed(ctx, item.ID, now)
			}
		} else {
			contact = &model.Contact{ExternalID: externalID, DisplayName: item.DisplayName, CreatedAt: now}
			if err := tx.CreateContact(ctx, contact); err != nil {
				return fmt.Errorf("create contact: %w", err)
			}
		}

		unsent, err := tx.ListUnsent(ctx)
		if err != nil {
			return fmt.Errorf("list unsent: %w", err)
		}
		contactID := contact.ID
		taken := model.ScheduledTimes(unsent, func(e model.ScheduleEntry) bool { return e.ContactID != contactID })
		alloc := p.params.Allocator(camp.settings)

		// first touch
		lastFirst, err := tx.LastUnsent(ctx, model.TouchFirst)
		if err != nil {
			return fmt.Errorf("last first touch: %w", err)
		}
		desired := now.Add(p.params.LeadTime)
		if lastFirst != nil {
			if next := lastFirst.ScheduledTime.Add(camp.settings.MessageInterval); next.After(now) {
				desired = next
			}
		}
		if desired.Sub(now) < p.params.MinLead {
			desired = now.Add(p.params.PaddedLead)
		}
		firstAt, err := alloc.Allocate(clampToBan(desired, st), taken)
		if err != nil {
			return fmt.Errorf("allocate first touch: %w", err)
		}
		if err := createEntry(ctx, tx, now, contactID, camp.first, firstAt); err != nil {
			return err
		}
		taken = append(taken, firstAt)

		// second touch
		lastSecond, err := tx.LastUnsent(ctx, model.TouchSecond)
		if err != nil {
			return fmt.Errorf("last second touch: %w", err)
		}
		desired = firstAt.Add(camp.settings.SecondTouchDelay)
		if lastSecond != nil {
			if next := lastSecond.ScheduledTime.Add(camp.settings.MessageInterval); next.After(desired) {
				desired = next
			}
		}
		secondAt, err := alloc.Allocate(clampToBan(desired, st), taken)
		if err != nil {
			return fmt.Errorf("allocate second touch: %w", err)
		}
		if err := createEntry(ctx, tx, now, contactID, camp.second, secondAt); err != nil {
			return err
		}

		p.log.Debug("contact scheduled",
			zap.String("external_id", externalID),
			zap.Time("first", firstAt),
			zap.Time("second", secondAt),
		)
		return tx.MarkEnrollmentProcessed(ctx, item.ID, now)
	})
	return res, err
}

func loadCampaign(ctx context.Context, tx repository.Tx) (campaign, error) {
	s, err := tx.GetSettings(ctx)
	if err != nil {
		return campaign{}, fmt.Errorf("get settings: %w", err)
	}
	if s == nil {
		return campaign{}, fmt.Errorf("%w: settings missing", ErrMisconfigured)
	}
	if err := s.Validate(); err != nil {
		return campaign{}, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}

	first, err := tx.ActiveTemplate(ctx, model.TouchFirst)
	if err != nil {
		return campaign{}, fmt.Errorf("get first template: %w", err)
	}
	second, err := tx.ActiveTemplate(ctx, model.TouchSecond)
	if err != nil {
		return campaign{}, fmt.Errorf("get second template: %w", err)
	}
	if first == nil || second == nil {
		return campaign{}, fmt.Errorf("%w: touch template missing", ErrMisconfigured)
	}
	return campaign{settings: *s, first: *first, second: *second}, nil
}

func clampToBan(t time.Time, st model.ProviderState) time.Time {
	if until := st.Until(); !until.IsZero() && t.Before(until) {
		return until
	}
	return t
}

func createEntry(ctx context.Context, tx repository.Tx, now time.Time, contactID int64, tpl model.MessageTemplate, at time.Time) error {
	e := model.ScheduleEntry{
		ID:            util.New(),
		ContactID:     contactID,
		TemplateID:    tpl.ID,
		Kind:          tpl.Kind(),
		ScheduledTime: at,
		CreatedAt:     now,
	}
	if err := tx.CreateEntry(ctx, e); err != nil {
		return fmt.Errorf("create %s touch: %w", e.Kind, err)
	}
	return nil
}
