package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1B
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // 0 = commit synchronously
	MaxWait        time.Duration // default 500ms
	Log            *zap.Logger   // reader errors, optional
}

// Consumer is a thin wrapper around segmentio/kafka-go Reader.
type Consumer struct {
	r     *kafka.Reader
	topic string
}

func NewConsumerFromConfig(c Config) *Consumer {
	min := c.MinBytes
	if min <= 0 {
		min = 1
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20 // 10MB
	}

	mw := c.MaxWait
	if mw <= 0 {
		mw = 500 * time.Millisecond
	}

	rc := kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       min,
		MaxBytes:       max,
		CommitInterval: c.CommitInterval,
		MaxWait:        mw,
		// a fresh group must not skip responses published before it joined
		StartOffset: kafka.FirstOffset,
	}
	if c.Log != nil {
		sugar := c.Log.Sugar().With("topic", c.Topic)
		rc.ErrorLogger = kafka.LoggerFunc(func(msg string, args ...interface{}) {
			sugar.Errorf(msg, args...)
		})
	}

	return &Consumer{r: kafka.NewReader(rc), topic: c.Topic}
}

type Message = kafka.Message

func (c *Consumer) Topic() string { return c.topic }

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }
