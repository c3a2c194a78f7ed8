// Package resources ships two reference implementations of the collaborator
// types a hosting application plugs into exectx.Resources.Database/Cache:
// a pgx connection pool and a go-redis client. Neither is required by the
// engine, which treats Database and Cache as opaque `any` values — these
// wrappers exist so a booted actionkit service has something concrete to
// inject, grounded in the same drivers the pack's other repos use for their
// storage and caching layers.
package resources

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// DatabaseConfig configures NewDatabase.
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	ConnMaxLifetime time.Duration
}

// NewDatabase opens a pgx connection pool for an action handler's
// Resources.Database slot.
func NewDatabase(ctx context.Context, cfg DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("resources: parse database dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("resources: open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("resources: ping database: %w", err)
	}
	return pool, nil
}

// CacheConfig configures NewCache.
type CacheConfig struct {
	Address  string
	Username string
	Password string
	DB       int
}

// NewCache opens a go-redis client for an action handler's Resources.Cache
// slot — independent of, and simpler than, internal/engine/cache's
// ResultCache (which backs the engine's own decision cache, not
// application-level caching inside a handler).
func NewCache(ctx context.Context, cfg CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("resources: ping cache: %w", err)
	}
	return client, nil
}
