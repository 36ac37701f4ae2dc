package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Nabil201-ctrl/Healify-sub000/cmd/mainconfig"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/anonymize"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/api/router"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/app/bootstrap"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/archive"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/chat"
	appconfig "github.com/Nabil201-ctrl/Healify-sub000/internal/config"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/http/handlers"
	httpmiddleware "github.com/Nabil201-ctrl/Healify-sub000/internal/http/middleware"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/review"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).ForService("api")
	logger.Info("starting healify API server", "env", cfg.Env, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	if err := mainconfig.ApplySecrets(ctx, cfg, awsCfg, logger); err != nil {
		logger.Error("failed to load secrets", "error", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}
	anon, err := anonymize.New(cfg.AnonymizationSalt)
	if err != nil {
		logger.Error("anonymizer unavailable", "error", err)
		os.Exit(1)
	}
	deps, closeDeps, err := bootstrap.Connect(ctx, cfg, awsCfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("failed to connect dependencies", "error", err)
		os.Exit(1)
	}
	defer closeDeps()

	sessions := chat.NewSessionStore(deps.DB)
	profiles := chat.NewProfileReader(deps.DB)
	rpc := transport.NewRPCClient(deps.Broker, logger, deps.Metrics)

	archiveStore := archive.NewStore(s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AWSEndpointOverride != ""
	}), cfg.ArchiveBucket, logger)
	reviewCfg := review.Config{
		Sessions:          sessions,
		Profiles:          profiles,
		Context:           chat.NewContextFetcher(deps.Cache, rpc, cfg.ContextRPCQueue, cfg.ContextRPCTimeout, logger),
		Anonymizer:        anon,
		Cache:             deps.Cache,
		Publisher:         deps.Publisher,
		NotificationQueue: cfg.NotificationQueue,
		Logger:            logger,
	}
	if archiveStore.Enabled() {
		reviewCfg.Archive = archiveStore
	}
	reviewService := review.NewService(reviewCfg)

	limiter := httpmiddleware.NewRateLimiter(cfg.ChatRateLimit, cfg.ChatRateBurst)
	go limiter.Sweep(ctx)

	handler := router.New(&router.Config{
		Logger:             logger,
		AuthSecret:         cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ChatRateLimiter:    limiter,
		Chat:               handlers.NewChatHandler(sessions, deps.Cache, deps.Publisher, cfg.ChatRequestQueue, logger),
		Review:             handlers.NewReviewHandler(reviewService, logger),
		Sync:               handlers.NewSyncHandler(deps.Publisher, cfg.HealthSyncQueue, logger),
		Health: handlers.HealthCheck(map[string]handlers.Pinger{
			"redis":    deps.Cache,
			"postgres": handlers.PingFunc(deps.DB.PingContext),
		}, logger),
		Metrics: promhttp.Handler(),
	})

	runners := []bootstrap.Runner{bootstrap.NewHTTPRunner(":"+cfg.Port, handler, logger)}
	if cfg.UseMemoryQueue {
		// The in-memory broker cannot cross processes, so the workers run here.
		chatRunners, closeProvider := bootstrap.ChatRunners(ctx, deps)
		defer closeProvider()
		runners = append(runners, chatRunners...)
		runners = append(runners, bootstrap.HealthRunners(deps)...)
		runners = append(runners, bootstrap.NotifyRunners(deps)...)
	}

	if !bootstrap.RunUntilDone(ctx, logger, bootstrap.ShutdownGrace, runners...) {
		os.Exit(1)
	}
	logger.Info("server stopped")
}
