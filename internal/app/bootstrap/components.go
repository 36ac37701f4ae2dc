package bootstrap

import (
	"context"
	"database/sql"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/cache"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/chat"
	appconfig "github.com/Nabil201-ctrl/Healify-sub000/internal/config"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/health"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/notify"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/observability/metrics"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

// processedRetention outlives any queue redelivery window.
const processedRetention = 7 * 24 * time.Hour

// Deps are the shared clients every process component is built from.
type Deps struct {
	Config    *appconfig.Config
	AWS       aws.Config
	Logger    *logging.Logger
	Broker    transport.Broker
	Publisher *transport.Publisher
	Cache     *cache.Store
	DB        *sql.DB
	Pool      *pgxpool.Pool
	Metrics   *metrics.TriageMetrics
}

func (d Deps) consumerOptions() []transport.ConsumerOption {
	return []transport.ConsumerOption{
		transport.WithPrefetch(d.Config.Prefetch),
		transport.WithMetrics(d.Metrics),
	}
}

// drainer adapts a component that only needs draining on shutdown.
type drainer struct{ wait func() }

func (drainer) Start(context.Context) {}
func (d drainer) Wait()               { d.wait() }

// ChatRunners builds the chat process: the request worker, the context push
// listener and the orchestrator's notification drain, in shutdown order.
// The returned closer releases the AI provider.
func ChatRunners(ctx context.Context, d Deps) ([]Runner, func()) {
	cfg := d.Config
	logger := d.Logger.ForService("chat")

	var ledger chat.TurnLedger
	if cfg.UseMemoryQueue {
		ledger = chat.NewMemoryTurnLedger()
	} else {
		ledger = chat.NewDynamoTurnLedger(dynamodb.NewFromConfig(d.AWS), cfg.TurnLedgerTable, logger)
	}

	provider, closeProvider := BuildAIProvider(ctx, cfg, d.AWS, logger)
	rpc := transport.NewRPCClient(d.Broker, logger, d.Metrics)
	orchestrator := chat.NewOrchestrator(chat.OrchestratorConfig{
		Sessions:          chat.NewSessionStore(d.DB),
		Ledger:            ledger,
		Context:           chat.NewContextFetcher(d.Cache, rpc, cfg.ContextRPCQueue, cfg.ContextRPCTimeout, logger),
		Provider:          provider,
		Cache:             d.Cache,
		Publisher:         d.Publisher,
		NotificationQueue: cfg.NotificationQueue,
		AITimeout:         cfg.AIProviderTimeout,
		Metrics:           d.Metrics,
		Logger:            logger,
	})

	opts := d.consumerOptions()
	return []Runner{
		chat.NewWorker(d.Broker, cfg.ChatRequestQueue, orchestrator, logger, opts...),
		chat.NewContextListener(d.Broker, cfg.ContextEventQueue, d.Cache, logger, opts...),
		drainer{wait: orchestrator.Wait},
	}, closeProvider
}

// HealthRunners builds the health process: the telemetry sync worker, the
// context RPC responder and the processed-event pruner.
func HealthRunners(d Deps) []Runner {
	cfg := d.Config
	logger := d.Logger.ForService("health")

	service := health.NewService(health.Config{
		Store:             health.NewTelemetryStore(d.Pool),
		Cache:             d.Cache,
		Publisher:         d.Publisher,
		ContextQueue:      cfg.ContextEventQueue,
		NotificationQueue: cfg.NotificationQueue,
		HighHeartRate:     cfg.HighHeartRateLimit,
		Logger:            logger,
	})

	processed := events.NewProcessedStore(d.Pool)
	opts := d.consumerOptions()
	return []Runner{
		health.NewSyncWorker(d.Broker, cfg.HealthSyncQueue, service, processed, logger, opts...),
		health.NewContextResponder(d.Broker, cfg.ContextRPCQueue, service, logger, opts...),
		events.NewPruner(processed, processedRetention, time.Hour, logger),
	}
}

// NotifyRunners builds the notification worker and the token pruner.
func NotifyRunners(d Deps) []Runner {
	cfg := d.Config
	logger := d.Logger.ForService("notify")

	profiles := chat.NewProfileReader(d.DB)
	service := notify.NewService(notify.ServiceConfig{
		Dispatcher: notify.NewDispatcher(notify.NewLogPushProvider(logger), logger),
		Tokens:     profiles,
		Email:      BuildEmailSender(cfg, d.AWS, logger),
		Publisher:  d.Publisher,
		PruneQueue: cfg.TokenPruneQueue,
		Metrics:    d.Metrics,
		Logger:     logger,
	})
	opts := d.consumerOptions()
	return []Runner{
		notify.NewWorker(d.Broker, cfg.NotificationQueue, service, logger, opts...),
		notify.NewPruneWorker(d.Broker, cfg.TokenPruneQueue, profiles, logger, opts...),
	}
}
