package cmd

import (
	"context"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/ban"
	"github.com/jmehdipour/outreach-scheduler/internal/db"
	"github.com/jmehdipour/outreach-scheduler/internal/logger"
	"github.com/jmehdipour/outreach-scheduler/internal/schedule"
	"github.com/jmehdipour/outreach-scheduler/internal/service/outreach"
	"github.com/spf13/cobra"
)

var (
	seedFirstText  string
	seedSecondText string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed default settings, provider state and touch templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, closeStore, err := db.OpenStore(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = closeStore() }()

		params, err := schedule.ParamsFrom(cfg.Scheduler)
		if err != nil {
			return err
		}

		svc := outreach.New(store, ban.NewCoordinator(params, logger.Log), nil, logger.Log)

		data := outreach.DefaultSeed()
		if seedFirstText != "" {
			data.FirstText = seedFirstText
		}
		if seedSecondText != "" {
			data.SecondText = seedSecondText
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if err := svc.Seed(ctx, data); err != nil {
			return err
		}

		logger.Log.Info("seed completed")
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFirstText, "first-text", "", "first touch template text")
	seedCmd.Flags().StringVar(&seedSecondText, "second-text", "", "second touch template text")
}
