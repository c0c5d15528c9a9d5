package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/util"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still carries our token, so an
// expired lock re-acquired by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Guard shared by every process pointing at the same Redis.
// The lock expires after TTL so a crashed holder cannot wedge the loops.
type Redis struct {
	rdb       *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func NewRedis(rdb *redis.Client, keyPrefix string, ttl time.Duration) *Redis {
	if keyPrefix == "" {
		keyPrefix = "outreach:guard:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{rdb: rdb, keyPrefix: keyPrefix, ttl: ttl}
}

var _ Guard = (*Redis)(nil)

func (g *Redis) TryAcquire(ctx context.Context, name string) (func(), error) {
	key := g.keyPrefix + name
	token := util.New()

	ok, err := g.rdb.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() {
		// release must run even when the pass ctx is already cancelled
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, g.rdb, []string{key}, token).Err()
	}, nil
}
