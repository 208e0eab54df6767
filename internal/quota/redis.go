package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisGuard is the shared Limiter for multi-instance deployments: one
// counter key per caller and window, expired by Redis itself.
type RedisGuard struct {
	client *redis.Client
	window time.Duration
	prefix string

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// RedisGuardOption configures a RedisGuard.
type RedisGuardOption func(*RedisGuard)

// WithGuardPrefix overrides the default "licita:quota:" key prefix.
func WithGuardPrefix(prefix string) RedisGuardOption {
	return func(g *RedisGuard) { g.prefix = prefix }
}

// NewRedisGuard connects to the given redis:// URL.
func NewRedisGuard(url string, window time.Duration, opts ...RedisGuardOption) (*RedisGuard, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "quota: parse redis url")
	}
	return NewRedisGuardWithClient(redis.NewClient(redisOpts), window, opts...), nil
}

// NewRedisGuardWithClient wraps an existing client, mainly for tests.
func NewRedisGuardWithClient(client *redis.Client, window time.Duration, opts ...RedisGuardOption) *RedisGuard {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	g := &RedisGuard{
		client:  client,
		window:  window,
		prefix:  "licita:quota:",
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *RedisGuard) key(callerKey string) string {
	ws := windowStart(g.nowFunc(), g.window)
	return fmt.Sprintf("%s%s:%d", g.prefix, callerKey, ws.Unix())
}

func (g *RedisGuard) Allow(ctx context.Context, callerKey string, limit int) (bool, error) {
	key := g.key(callerKey)

	pipe := g.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, g.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, eris.Wrap(err, "quota: redis incr")
	}

	if incr.Val() > int64(limit) {
		// Over limit: undo the optimistic increment so Usage stays accurate.
		if err := g.client.Decr(ctx, key).Err(); err != nil {
			return false, eris.Wrap(err, "quota: redis decr")
		}
		return false, nil
	}
	return true, nil
}

func (g *RedisGuard) Usage(ctx context.Context, callerKey string) (int, error) {
	val, err := g.client.Get(ctx, g.key(callerKey)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "quota: redis get")
	}
	return val, nil
}

// Close releases the underlying client.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
