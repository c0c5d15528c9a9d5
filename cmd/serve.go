package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/ban"
	"github.com/jmehdipour/outreach-scheduler/internal/db"
	httpSrv "github.com/jmehdipour/outreach-scheduler/internal/http"
	"github.com/jmehdipour/outreach-scheduler/internal/logger"
	"github.com/jmehdipour/outreach-scheduler/internal/metrics"
	"github.com/jmehdipour/outreach-scheduler/internal/schedule"
	"github.com/jmehdipour/outreach-scheduler/internal/service/outreach"
	"github.com/jmehdipour/outreach-scheduler/internal/wake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operator HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.Log

		store, closeStore, err := db.OpenStore(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = closeStore() }()

		redisClient, err := db.NewRedisClient(db.RedisOptsFrom(cfg.Redis))
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		params, err := schedule.ParamsFrom(cfg.Scheduler)
		if err != nil {
			return err
		}

		metrics.MustRegister(prometheus.DefaultRegisterer)

		// the scheduler runs in another process; wake it over redis
		bus := wake.NewRedisBus(redisClient, cfg.Wake.Channel, log)
		svc := outreach.New(store, ban.NewCoordinator(params, log), bus, log)
		server := httpSrv.NewServer(cfg, svc, redisClient, log)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}
