// Command health-worker applies telemetry syncs and answers health context requests.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Nabil201-ctrl/Healify-sub000/cmd/mainconfig"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/app/bootstrap"
	appconfig "github.com/Nabil201-ctrl/Healify-sub000/internal/config"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).ForService("health-worker")
	if cfg.UseMemoryQueue {
		logger.Error("USE_MEMORY_QUEUE only works inside the API process; run cmd/api instead")
		os.Exit(1)
	}

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
	deps, closeDeps, err := bootstrap.Connect(ctx, cfg, awsCfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("failed to connect dependencies", "error", err)
		os.Exit(1)
	}
	defer closeDeps()

	runners := bootstrap.HealthRunners(deps)
	runners = append(runners, bootstrap.NewHTTPRunner(":"+cfg.Port, promhttp.Handler(), logger))

	logger.Info("health worker started", "prefetch", cfg.Prefetch)
	if !bootstrap.RunUntilDone(ctx, logger, bootstrap.ShutdownGrace, runners...) {
		os.Exit(1)
	}
	logger.Info("health worker stopped")
}
