package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/Nabil201-ctrl/Healify-sub000/internal/config"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

const memoryQueueBuffer = 1024

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildBroker selects the in-process broker for local runs and SQS otherwise.
// The memory broker only connects components inside one process.
func BuildBroker(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) transport.Broker {
	if cfg.UseMemoryQueue {
		logger.Warn("using in-memory broker; queues are not shared between processes")
		return transport.NewMemoryBroker(memoryQueueBuffer)
	}
	return transport.NewSQSBroker(sqs.NewFromConfig(awsCfg))
}

// OpenPostgres opens a database/sql handle on the pgx driver and a pgx pool
// on the same URL.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, *pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("bootstrap: ping db: %w", err)
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("bootstrap: pgx pool: %w", err)
	}
	return db, pool, nil
}
