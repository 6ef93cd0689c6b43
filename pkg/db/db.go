// pkg/db/db.go
package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"grcbridge/pkg/config"
)

const defaultPingTimeout = 5 * time.Second

// MustConnect opens the Postgres pool used by the session store. It returns
// nil when no DATABASE_URL is configured.
func MustConnect(cfg config.Config, log *zap.SugaredLogger) *pgxpool.Pool {
	if cfg.DatabaseURL == "" {
		return nil
	}
	pc, err := poolConfig(cfg)
	if err != nil {
		log.Fatalw("pg config", "host", redactDSN(cfg.DatabaseURL), "err", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout(cfg.DBConnectTimeout))
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		log.Fatalw("pg connect", "host", redactDSN(cfg.DatabaseURL), "err", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		log.Fatalw("pg ping", "host", redactDSN(cfg.DatabaseURL), "err", err)
	}
	log.Infow("postgres ready", "host", redactDSN(cfg.DatabaseURL),
		"max_conns", pc.MaxConns, "min_conns", pc.MinConns)
	return pool
}

// MustRedis opens the Redis client used by the session store. It returns nil
// when no REDIS_URL is configured.
func MustRedis(cfg config.Config, log *zap.SugaredLogger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redisOptions(cfg)
	if err != nil {
		log.Fatalw("redis config", "err", err)
	}
	cli := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout(cfg.RedisTimeout))
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		log.Fatalw("redis ping", "addr", opts.Addr, "err", err)
	}
	log.Infow("redis ready", "addr", opts.Addr, "db", opts.DB, "pool_size", opts.PoolSize)
	return cli
}

func poolConfig(cfg config.Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	// Values set in the DSN (pool_max_conns and friends) win over env.
	if cfg.DBMaxConns > 0 && !strings.Contains(cfg.DatabaseURL, "pool_max_conns") {
		pc.MaxConns = int32(cfg.DBMaxConns)
	}
	if cfg.DBMinConns > 0 && !strings.Contains(cfg.DatabaseURL, "pool_min_conns") {
		pc.MinConns = int32(cfg.DBMinConns)
	}
	if pc.MinConns > pc.MaxConns {
		pc.MinConns = pc.MaxConns
	}
	if cfg.DBConnectTimeout > 0 && !strings.Contains(cfg.DatabaseURL, "connect_timeout") {
		pc.ConnConfig.ConnectTimeout = cfg.DBConnectTimeout
	}
	return pc, nil
}

// redisOptions applies the session store's timeouts on top of REDIS_URL.
// Lookups happen on every tool call, so reads fail fast rather than
// waiting out the client's 3s default.
func redisOptions(cfg config.Config) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.RedisTimeout > 0 {
		opts.DialTimeout = cfg.RedisTimeout
		opts.ReadTimeout = cfg.RedisTimeout
		opts.WriteTimeout = cfg.RedisTimeout
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}
	return opts, nil
}

func pingTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultPingTimeout
	}
	return d
}

// redactDSN keeps host, port and database for logs.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		if i := strings.LastIndex(dsn, "@"); i > 0 {
			return "***@" + dsn[i+1:]
		}
		return "***"
	}
	return u.Host + u.Path
}
