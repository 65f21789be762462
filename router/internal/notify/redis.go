package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/telhawk-router/common/logging"
)

// DefaultPollInterval is used when a RedisPoller is built with a zero interval.
const DefaultPollInterval = 5 * time.Second

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string, maxRetries, poolSize int) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if maxRetries > 0 {
		opt.MaxRetries = maxRetries
	}
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// RedisPoller watches an integer version key and fires when its value
// changes. The catalog owner bumps the key with BumpVersion.
type RedisPoller struct {
	client   redis.Cmdable
	key      string
	interval time.Duration
	logger   *logging.Logger
}

// NewRedisPoller creates a poller for key.
func NewRedisPoller(client redis.Cmdable, key string, interval time.Duration, logger *logging.Logger) *RedisPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &RedisPoller{client: client, key: key, interval: interval, logger: logging.OrDefault(logger)}
}

// Run implements Notifier. Read errors are logged and retried on the next
// tick; the last seen version is kept across failures.
func (p *RedisPoller) Run(ctx context.Context, fire func()) error {
	last, err := p.version(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to read stream catalog version", logging.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current, err := p.version(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.WarnContext(ctx, "failed to read stream catalog version", logging.Error(err))
				continue
			}
			if current != last {
				p.logger.DebugContext(ctx, "stream catalog version changed",
					"previous", last, "current", current)
				last = current
				fire()
			}
		}
	}
}

func (p *RedisPoller) version(ctx context.Context) (string, error) {
	v, err := p.client.Get(ctx, p.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// BumpVersion increments the version key and returns the new value.
func BumpVersion(ctx context.Context, client redis.Cmdable, key string) (int64, error) {
	v, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to bump stream catalog version: %w", err)
	}
	return v, nil
}
