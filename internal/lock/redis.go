package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLeaseTTL   = 30 * time.Second
	defaultRetryEvery = 50 * time.Millisecond
	keyPrefix         = "concierge:lock:"
)

// releaseScript deletes the lease only if this holder still owns it.
const releaseScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`

type RedisOptions struct {
	LeaseTTL   time.Duration
	RetryEvery time.Duration
	// Token generates the per-acquisition owner value. Defaults to uuid.
	Token func() string
}

// Redis is a lease-based distributed lock. A lease expires after LeaseTTL
// so a crashed holder cannot block a key forever.
type Redis struct {
	client goredis.UniversalClient
	opts   RedisOptions
	logger *slog.Logger
}

func NewRedis(client goredis.UniversalClient, opts RedisOptions, logger *slog.Logger) *Redis {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}
	if opts.RetryEvery <= 0 {
		opts.RetryEvery = defaultRetryEvery
	}
	if opts.Token == nil {
		opts.Token = uuid.NewString
	}
	return &Redis{client: client, opts: opts, logger: logger}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := keyPrefix + key
	token := r.opts.Token()

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.opts.LeaseTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.opts.RetryEvery):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Released on a fresh context so a cancelled caller still frees the key.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.client.Eval(ctx, releaseScript, []string{k}, token).Err(); err != nil {
				r.logger.Warn("failed to release lock, lease will expire",
					"key", key,
					"error", err,
				)
			}
		})
	}, nil
}

// Dial connects to the Redis at redisURL and pings it.
func Dial(ctx context.Context, redisURL string) (goredis.UniversalClient, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
