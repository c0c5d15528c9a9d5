package worker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/ban"
	"github.com/jmehdipour/outreach-scheduler/internal/config"
	"github.com/jmehdipour/outreach-scheduler/internal/db"
	"github.com/jmehdipour/outreach-scheduler/internal/dispatcher"
	"github.com/jmehdipour/outreach-scheduler/internal/enrollment"
	"github.com/jmehdipour/outreach-scheduler/internal/guard"
	"github.com/jmehdipour/outreach-scheduler/internal/logger"
	"github.com/jmehdipour/outreach-scheduler/internal/metrics"
	"github.com/jmehdipour/outreach-scheduler/internal/schedule"
	"github.com/jmehdipour/outreach-scheduler/internal/wake"
	"github.com/jmehdipour/outreach-scheduler/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var metricsAddr string

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the enrollment and dispatch loops",
	RunE:  runScheduler,
}

func init() {
	schedulerCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9100", "address for /metrics (empty disables)")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.Log

	metrics.MustRegister(prometheus.DefaultRegisterer)

	params, err := schedule.ParamsFrom(cfg.Scheduler)
	if err != nil {
		return err
	}

	// 2) store
	store, closeStore, err := db.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	// 3) redis for guard + wake, when configured
	var rdb *redis.Client
	if cfg.Scheduler.Guard == "redis" || cfg.Wake.Driver == "redis" {
		rdb, err = db.NewRedisClient(db.RedisOptsFrom(cfg.Redis))
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = rdb.Close() }()
	}

	var g guard.Guard = guard.NewLocal()
	if cfg.Scheduler.Guard == "redis" {
		g = guard.NewRedis(rdb, "outreach:guard:", cfg.Scheduler.LockTTL)
	}

	// 4) provider → dispatcher
	pc := cfg.Provider
	if strings.TrimSpace(pc.BaseURL) == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	provider := dispatcher.NewHTTPProvider(
		pc.Name,
		strings.TrimRight(pc.BaseURL, "/"),
		pc.SendPath,
		pc.TimeoutMs,
		pc.MaxRPS,
		pc.Breaker.FailThreshold,
		pc.Breaker.OpenForMs,
	)

	coord := ban.NewCoordinator(params, log)
	disp := dispatcher.NewDispatcher(store, provider, coord, g, params, dispatcherConfig(cfg.Scheduler), log)
	proc := enrollment.NewProcessor(store, g, params, cfg.Scheduler.EnrollmentBatch, log)

	local := wake.NewLocal()
	engine := worker.NewEngine(proc, disp, local, cfg.Scheduler.EnrollmentInterval, log)

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("scheduler started",
		zap.String("provider", pc.Name),
		zap.String("timezone", cfg.Scheduler.Timezone),
		zap.String("guard", cfg.Scheduler.Guard),
		zap.String("wake", cfg.Wake.Driver),
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return engine.Run(ctx) })
	if cfg.Wake.Driver == "redis" {
		bus := wake.NewRedisBus(rdb, cfg.Wake.Channel, log)
		eg.Go(func() error {
			if err := bus.Listen(ctx, local); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}
	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		eg.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	return eg.Wait()
}

func dispatcherConfig(c config.SchedulerConfig) dispatcher.Config {
	return dispatcher.Config{
		Concurrency:  c.DispatchConcurrency,
		MaxIdleSleep: c.MaxIdleSleep,
		MinSleep:     c.MinSleep,
	}
}
