package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/ban"
	"github.com/jmehdipour/outreach-scheduler/internal/config"
	"github.com/jmehdipour/outreach-scheduler/internal/db"
	"github.com/jmehdipour/outreach-scheduler/internal/kafka"
	"github.com/jmehdipour/outreach-scheduler/internal/logger"
	"github.com/jmehdipour/outreach-scheduler/internal/schedule"
	"github.com/jmehdipour/outreach-scheduler/internal/service/outreach"
	"github.com/jmehdipour/outreach-scheduler/internal/wake"
	"github.com/jmehdipour/outreach-scheduler/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listenerCmd = &cobra.Command{
	Use:   "listener",
	Short: "Consume inbound events (responses | enrollments)",
}

var listenerResponsesCmd = &cobra.Command{
	Use:   "responses",
	Short: "Mark contacts responded from the responses topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListener(cmd, "responses")
	},
}

var listenerEnrollmentsCmd = &cobra.Command{
	Use:   "enrollments",
	Short: "Queue enrollments from the enrollments topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListener(cmd, "enrollments")
	},
}

func init() {
	listenerCmd.AddCommand(listenerResponsesCmd)
	listenerCmd.AddCommand(listenerEnrollmentsCmd)
}

func runListener(cmd *cobra.Command, kind string) error {
	// 1) load config
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.Log

	store, closeStore, err := db.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	params, err := schedule.ParamsFrom(cfg.Scheduler)
	if err != nil {
		return err
	}

	// 2) wake the scheduler process over redis
	var notify wake.Notifier
	if cfg.Wake.Driver == "redis" {
		rdb, err := db.NewRedisClient(db.RedisOptsFrom(cfg.Redis))
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		notify = wake.NewRedisBus(rdb, cfg.Wake.Channel, log)
	}
	svc := outreach.New(store, ban.NewCoordinator(params, log), notify, log)

	// 3) kafka consumer
	topic, handler := topicFor(cfg.Kafka, kind, svc)
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "outreach"
	}
	groupID = groupID + "-" + kind

	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		Log:            log,
	})
	defer consumer.Close()

	l := worker.NewListener(kind, consumer, handler, log)

	// 4) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("listener starting", zap.String("topic", topic), zap.String("group", groupID))
	return l.Run(ctx)
}

func topicFor(c config.KafkaConfig, kind string, svc *outreach.Service) (string, worker.Handler) {
	if kind == "enrollments" {
		return c.Topics.Enrollments, worker.EnrollmentHandler(svc)
	}
	return c.Topics.Responses, worker.ResponseHandler(svc)
}
