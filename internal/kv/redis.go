package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-contact/internal/xerrors"
)

// RedisOptions configures the redis backed persistent store.
type RedisOptions struct {
	// URL in redis:// or rediss:// form
	URL string

	// KeyPrefix is prepended to every key, lets several sites share a database
	KeyPrefix string

	// TTL applied on every write. Day counters are never read again once the
	// date rolls over, so the TTL is what reclaims them. Zero disables expiry.
	TTL time.Duration
}

// Redis is a Store backed by a redis server.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis builds a client from opts.URL. It does not dial, a server that
// is down at startup shows up on the first Check or store call.
func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.URL == "" {
		return nil, xerrors.New("redis url is required")
	}
	ro, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse redis url")
	}
	ro.DialTimeout = 5 * time.Second
	ro.ReadTimeout = 2 * time.Second
	ro.WriteTimeout = 2 * time.Second

	return NewRedisFromClient(redis.NewClient(ro), opts.KeyPrefix, opts.TTL), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrapf(unavailable(err), "redis get %s", key)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return xerrors.Wrapf(unavailable(err), "redis set %s", key)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return xerrors.Wrapf(unavailable(err), "redis del %s", key)
	}
	return nil
}

// Check pings the server, satisfies health.Probe for readiness.
func (r *Redis) Check(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return xerrors.Wrap(unavailable(err), "redis ping")
	}
	return nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

// unavailable marks err as ErrUnavailable while keeping the redis cause.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
