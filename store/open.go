package store

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	// DefaultPrefix is the key prefix of the redis store.
	DefaultPrefix = "toolmesh"
)

// Config specifies the task store backend.
type Config struct {
	// Backend is memory or redis, memory if empty.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	// RedisURL is required for the redis backend, e.g. redis://localhost:6379/0
	RedisURL string `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	// Prefix defaults to DefaultPrefix.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// Open returns the store of the configured backend and the function to release it.
func Open(ctx context.Context, cfg Config) (TaskStore, func(), error) {
	switch strings.ToLower(values.StringsCoalesce(cfg.Backend, BackendMemory)) {
	case BackendMemory:
		return NewMemoryStore(), func() {}, nil
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, nil, errors.New("redis_url is required for the redis store")
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "invalid redis_url")
		}
		client := redis.NewClient(opts)
		if err = client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrap(err, "failed to connect to redis")
		}
		logger.ContextKV(ctx, xlog.INFO, "status", "connected", "addr", opts.Addr)

		closer := func() {
			if err := client.Close(); err != nil {
				logger.KV(xlog.ERROR, "reason", "close", "err", err.Error())
			}
		}
		return NewRedisStore(client, values.StringsCoalesce(cfg.Prefix, DefaultPrefix)), closer, nil
	default:
		return nil, nil, errors.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
