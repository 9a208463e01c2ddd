package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("timed out waiting for lock")

// Only the holder's token may release the key.
var redisUnlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisConfig struct {
	Prefix string
	// TTL bounds how long a crashed holder can block others.
	TTL        time.Duration
	Wait       time.Duration
	RetryEvery time.Duration
}

// Redis is a SET NX PX lease lock. It is advisory: the store transaction still re-checks conflicts.
type Redis struct {
	rdb    *redis.Client
	cfg    RedisConfig
	logger *slog.Logger
}

func NewRedis(rdb *redis.Client, cfg RedisConfig, logger *slog.Logger) *Redis {
	cfg.Prefix = strings.TrimSpace(cfg.Prefix)
	if cfg.Prefix == "" {
		cfg.Prefix = "lock"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 3 * time.Second
	}
	if cfg.RetryEvery <= 0 {
		cfg.RetryEvery = 25 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{rdb: rdb, cfg: cfg, logger: logger}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := r.cfg.Prefix + ":" + key
	token := uuid.NewString()

	deadline := time.NewTimer(r.cfg.Wait)
	defer deadline.Stop()
	ticker := time.NewTicker(r.cfg.RetryEvery)
	defer ticker.Stop()

	for {
		ok, err := r.rdb.SetNX(ctx, fullKey, token, r.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", fullKey, err)
		}
		if ok {
			return func() { r.release(fullKey, token) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, fullKey)
		case <-ticker.C:
		}
	}
}

func (r *Redis) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := redisUnlockScript.Run(ctx, r.rdb, []string{key}, token).Err(); err != nil {
		r.logger.Warn("redis lock release failed", "key", key, "err", err)
	}
}
