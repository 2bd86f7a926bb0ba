package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/keyshop/internal/adapter/messaging"
	"github.com/rl1809/keyshop/internal/adapter/storage"
	"github.com/rl1809/keyshop/internal/config"
	"github.com/rl1809/keyshop/internal/port"
)

type openedStore struct {
	repo    port.DatabaseRepository
	migrate func(context.Context) error
	close   func()
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*openedStore, error) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxOpenConns / 2)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping mysql: %w", err)
		}
		logger.Info("connected to mysql")

		adapter := storage.NewMySQLAdapter(db)
		return &openedStore{repo: adapter, migrate: adapter.Migrate, close: func() { db.Close() }}, nil

	case config.DriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("parse postgres url: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxOpenConns)
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		adapter := storage.NewPostgresAdapter(pool)
		return &openedStore{repo: adapter, migrate: adapter.Migrate, close: pool.Close}, nil

	default:
		logger.Warn("using in-memory store, data is lost on exit")
		return &openedStore{
			repo:    storage.NewMemoryAdapter(),
			migrate: func(context.Context) error { return nil },
			close:   func() {},
		}, nil
	}
}

// openOrderCache returns a nil cache when no Redis address is configured.
func openOrderCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (port.OrderCache, func(), error) {
	if cfg.RedisAddr == "" {
		return nil, func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected to redis", zap.Duration("order_ttl", cfg.OrderCacheTTL))
	return storage.NewRedisAdapter(rdb, cfg.OrderCacheTTL), func() { rdb.Close() }, nil
}

func openPublisher(cfg config.Config, logger *zap.Logger) port.EventPublisher {
	if len(cfg.KafkaBrokers) == 0 {
		return messaging.NopPublisher{}
	}
	logger.Info("publishing low-stock events",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaLowStockTopic),
	)
	return messaging.NewKafkaPublisher(messaging.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaLowStockTopic), logger)
}
