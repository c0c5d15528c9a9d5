package outreach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/ban"
	"github.com/jmehdipour/outreach-scheduler/internal/model"
	"github.com/jmehdipour/outreach-scheduler/internal/repository"
	"github.com/jmehdipour/outreach-scheduler/internal/util"
	"github.com/jmehdipour/outreach-scheduler/internal/wake"
	"go.uber.org/zap"
)

var (
	ErrContactNotFound = errors.New("contact not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotConfigured   = errors.New("settings not configured")
)

// Service is the entry point for everything outside the scheduler loops:
// the operator API, the Kafka listeners and the seed command. State changes
// that can move the next send wake the loops.
type Service struct {
	store  repository.Store
	coord  *ban.Coordinator
	notify wake.Notifier
	now    func() time.Time
	log    *zap.Logger
}

func New(store repository.Store, coord *ban.Coordinator, notify wake.Notifier, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if notify == nil {
		notify = wake.Multi(nil)
	}
	return &Service{store: store, coord: coord, notify: notify, now: time.Now, log: log}
}

func (s *Service) wake(ctx context.Context, r wake.Reason) {
	if err := s.notify.Notify(ctx, r); err != nil {
		s.log.Warn("wake notify failed", zap.String("reason", string(r)), zap.Error(err))
	}
}

// Enqueue queues a contact for the campaign.
func (s *Service) Enqueue(ctx context.Context, externalID, displayName string) (model.PendingEnrollment, error) {
	externalID = util.NormalizeExternalID(externalID)
	if externalID == "" {
		return model.PendingEnrollment{}, fmt.Errorf("%w: external_id is required", ErrInvalidInput)
	}

	e := model.PendingEnrollment{
		ExternalID:  externalID,
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.CreateEnrollment(ctx, &e)
	}); err != nil {
		return model.PendingEnrollment{}, fmt.Errorf("create enrollment: %w", err)
	}

	s.wake(ctx, wake.Enrollment)
	return e, nil
}

// MarkResponded records that the contact wrote back. It reports whether
// anything changed; repeated calls are no-ops.
func (s *Service) MarkResponded(ctx context.Context, externalID string, at time.Time) (bool, error) {
	externalID = util.NormalizeExternalID(externalID)
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	changed := false
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := repository.LockSchedule(ctx, tx); err != nil {
			return err
		}
		c, err := tx.GetContactByExternalID(ctx, externalID)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("%w: %s", ErrContactNotFound, externalID)
		}
		if c.Responded {
			return nil
		}
		c.Responded = true
		c.RespondedAt = &at
		c.LastMessageTime = &at
		c.UpdatedAt = at
		changed = true
		return tx.UpdateContact(ctx, *c)
	})
	if err != nil {
		return false, err
	}

	if changed {
		s.log.Info("contact responded", zap.String("external_id", externalID), zap.Time("at", at))
		s.wake(ctx, wake.Response)
	}
	return changed, nil
}

// SetBanned applies an operator ban toggle through the coordinator.
func (s *Service) SetBanned(ctx context.Context, banned bool, until *time.Time) (model.ProviderState, error) {
	now := s.now().UTC()
	var (
		st model.ProviderState
		tr ban.Transition
	)
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		tr, err = s.coord.Toggle(ctx, tx, now, banned, until)
		if err != nil {
			return err
		}
		st, err = tx.GetProviderState(ctx)
		return err
	})
	if err != nil {
		return model.ProviderState{}, fmt.Errorf("toggle ban: %w", err)
	}

	switch tr {
	case ban.Enter, ban.Extend:
		s.wake(ctx, wake.Ban)
	case ban.Exit:
		s.wake(ctx, wake.Unban)
	}
	return st, nil
}

func (s *Service) ProviderState(ctx context.Context) (model.ProviderState, error) {
	var st model.ProviderState
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		st, err = tx.GetProviderState(ctx)
		return err
	})
	return st, err
}

func (s *Service) Settings(ctx context.Context) (model.Settings, error) {
	var out *model.Settings
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.GetSettings(ctx)
		return err
	})
	if err != nil {
		return model.Settings{}, err
	}
	if out == nil {
		return model.Settings{}, ErrNotConfigured
	}
	return *out, nil
}

func (s *Service) UpdateSettings(ctx context.Context, in model.Settings) (model.Settings, error) {
	if err := in.Validate(); err != nil {
		return model.Settings{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	in.UpdatedAt = s.now().UTC()
	if err := s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.SaveSettings(ctx, in)
	}); err != nil {
		return model.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	s.wake(ctx, wake.Settings)
	return in, nil
}

// SetTemplate adds a template; the newest one of a kind is the active one.
func (s *Service) SetTemplate(ctx context.Context, kind model.TouchKind, text string) (model.MessageTemplate, error) {
	text = strings.TrimSpace(text)
	if !kind.Valid() || text == "" {
		return model.MessageTemplate{}, fmt.Errorf("%w: template kind and text are required", ErrInvalidInput)
	}

	t := model.MessageTemplate{Text: text, IsSecondTouch: kind == model.TouchSecond, CreatedAt: s.now().UTC()}
	if err := s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.CreateTemplate(ctx, &t)
	}); err != nil {
		return model.MessageTemplate{}, fmt.Errorf("create template: %w", err)
	}
	return t, nil
}

func (s *Service) ActiveTemplates(ctx context.Context) (map[model.TouchKind]model.MessageTemplate, error) {
	out := make(map[model.TouchKind]model.MessageTemplate, len(model.TouchKinds))
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		for _, k := range model.TouchKinds {
			t, err := tx.ActiveTemplate(ctx, k)
			if err != nil {
				return err
			}
			if t != nil {
				out[k] = *t
			}
		}
		return nil
	})
	return out, err
}

func (s *Service) ListSchedule(ctx context.Context, f repository.EntryFilter) ([]model.ScheduleEntry, error) {
	var out []model.ScheduleEntry
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.ListEntries(ctx, f)
		return err
	})
	return out, err
}
