package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStore implements Store on Redis. The hard TTL rides on the key's
// expiration, so Redis evicts expired entries on its own.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	hardTTL time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix overrides the default "licita:cache:" key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore connects to the given redis:// URL.
func NewRedisStore(url string, hardTTL time.Duration, opts ...RedisOption) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}

	s := &RedisStore{
		client:  redis.NewClient(redisOpts),
		prefix:  "licita:cache:",
		hardTTL: hardTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewRedisStoreWithClient wraps an existing client, mainly for tests.
func NewRedisStoreWithClient(client *redis.Client, hardTTL time.Duration, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:  client,
		prefix:  "licita:cache:",
		hardTTL: hardTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache: redis get")
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, eris.Wrap(err, "cache: decode redis entry")
	}
	return &entry, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, payload []byte) error {
	entry := Entry{Key: key, Payload: payload, StoredAt: time.Now().UTC()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "cache: encode redis entry")
	}

	if err := s.client.Set(ctx, s.prefix+key, raw, s.hardTTL).Err(); err != nil {
		return eris.Wrap(err, "cache: redis set")
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return eris.Wrap(err, "cache: redis del")
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
