package bootstrap

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/cache"
	appconfig "github.com/Nabil201-ctrl/Healify-sub000/internal/config"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/observability/metrics"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

// ErrRedisUnavailable is returned when the shared cache cannot be reached.
var ErrRedisUnavailable = errors.New("bootstrap: redis unavailable")

// Connect opens every shared client a process needs. The returned closer
// releases them in reverse order.
func Connect(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger, reg prometheus.Registerer) (Deps, func(), error) {
	redisClient := BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		return Deps{}, nil, ErrRedisUnavailable
	}
	db, pool, err := OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = redisClient.Close()
		return Deps{}, nil, err
	}

	broker := BuildBroker(cfg, awsCfg, logger)
	deps := Deps{
		Config:    cfg,
		AWS:       awsCfg,
		Logger:    logger,
		Broker:    broker,
		Publisher: transport.NewPublisher(broker, logger),
		Cache:     cache.NewStore(redisClient, nil),
		DB:        db,
		Pool:      pool,
		Metrics:   metrics.NewTriageMetrics(reg),
	}
	closeAll := func() {
		pool.Close()
		_ = db.Close()
		_ = redisClient.Close()
	}
	return deps, closeAll, nil
}
