package wake

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus carries wake reasons between processes over Redis pub/sub, so
// the operator API can wake a scheduler running elsewhere.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisBus(rdb *redis.Client, channel string, log *zap.Logger) *RedisBus {
	if channel == "" {
		channel = "outreach:wake"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBus{rdb: rdb, channel: channel, log: log}
}

var _ Notifier = (*RedisBus)(nil)

func (b *RedisBus) Notify(ctx context.Context, r Reason) error {
	if err := b.rdb.Publish(ctx, b.channel, string(r)).Err(); err != nil {
		return fmt.Errorf("publish wake %s: %w", r, err)
	}
	return nil
}

// Listen forwards every published reason to local until ctx is done.
func (b *RedisBus) Listen(ctx context.Context, local *Local) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	// wait for the subscription to be confirmed before relaying
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.log.Debug("wake received", zap.String("reason", msg.Payload))
			_ = local.Notify(ctx, Reason(msg.Payload))
		}
	}
}
