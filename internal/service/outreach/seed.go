package outreach

import (
	"context"
	"fmt"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
	"github.com/jmehdipour/outreach-scheduler/internal/repository"
	"go.uber.org/zap"
)

// SeedData is what a fresh installation starts with.
type SeedData struct {
	Settings   model.Settings
	FirstText  string
	SecondText string
}

func DefaultSeed() SeedData {
	return SeedData{
		Settings:   model.DefaultSettings(),
		FirstText:  "Hi! We have something you might like. Reply if you want details.",
		SecondText: "Just checking in on my previous message. Happy to answer any questions.",
	}
}

// Seed writes settings, the provider state row and both templates when they
// are missing. Existing rows are left untouched.
func (s *Service) Seed(ctx context.Context, d SeedData) error {
	if err := d.Settings.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()

	return s.store.InTx(ctx, func(tx repository.Tx) error {
		cur, err := tx.GetSettings(ctx)
		if err != nil {
			return err
		}
		if cur == nil {
			d.Settings.UpdatedAt = now
			if err := tx.SaveSettings(ctx, d.Settings); err != nil {
				return fmt.Errorf("seed settings: %w", err)
			}
			s.log.Info("seeded settings")
		}

		st, err := tx.GetProviderState(ctx)
		if err != nil {
			return err
		}
		if st.UpdatedAt.IsZero() {
			if err := tx.SaveProviderState(ctx, model.ProviderState{UpdatedAt: now}); err != nil {
				return fmt.Errorf("seed provider state: %w", err)
			}
		}

		for kind, text := range map[model.TouchKind]string{model.TouchFirst: d.FirstText, model.TouchSecond: d.SecondText} {
			t, err := tx.ActiveTemplate(ctx, kind)
			if err != nil {
				return err
			}
			if t != nil || text == "" {
				continue
			}
			tpl := model.MessageTemplate{Text: text, IsSecondTouch: kind == model.TouchSecond, CreatedAt: now}
			if err := tx.CreateTemplate(ctx, &tpl); err != nil {
				return fmt.Errorf("seed %s template: %w", kind, err)
			}
			s.log.Info("seeded template", zap.String("kind", kind.String()))
		}
		return nil
	})
}
