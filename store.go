package goSession

import (
	"context"
	"io"

	"github.com/MrEthical07/goSession/credential"
	"github.com/redis/go-redis/v9"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// OpenStore opens the credential store described by cfg. The returned closer
// releases any handle the store owns (database, Redis client) and is never
// nil. [credential.KVStore] wraps a caller-owned backend and is injected with
// [Builder.WithStore] instead.
func OpenStore(ctx context.Context, cfg StorageConfig) (credential.Store, io.Closer, error) {
	noop := closerFunc(func() error { return nil })

	switch cfg.Backend {
	case StoreFile:
		return credential.NewFileStore(cfg.Path), noop, nil
	case StoreSQLite:
		store, err := credential.OpenSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return credential.NewRedisStore(client, cfg.RedisPrefix, cfg.RedisTTL), client, nil
	default:
		return credential.NewMemoryStore(), noop, nil
	}
}
