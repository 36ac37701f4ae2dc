package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

// ShutdownGrace bounds how long a process waits for in-flight work on exit.
const ShutdownGrace = 30 * time.Second

// Runner is a background loop with an explicit lifecycle.
type Runner interface {
	Start(ctx context.Context)
	Wait()
}

// RunUntilDone starts every runner, blocks until ctx is cancelled and then
// waits up to grace for them to drain.
func RunUntilDone(ctx context.Context, logger *logging.Logger, grace time.Duration, runners ...Runner) bool {
	for _, r := range runners {
		r.Start(ctx)
	}
	<-ctx.Done()
	logger.Info("shutting down", "runners", len(runners))

	done := make(chan struct{})
	go func() {
		for _, r := range runners {
			r.Wait()
		}
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		logger.Info("runners stopped")
		return true
	case <-timer.C:
		logger.Error("shutdown timed out", "grace", grace.String())
		return false
	}
}

// HTTPRunner serves an http.Server until its start context is cancelled.
type HTTPRunner struct {
	server *http.Server
	logger *logging.Logger
	grace  time.Duration
	wg     sync.WaitGroup
}

// NewHTTPRunner wraps handler in a server listening on addr.
func NewHTTPRunner(addr string, handler http.Handler, logger *logging.Logger) *HTTPRunner {
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPRunner{
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
		grace:  ShutdownGrace,
	}
}

func (h *HTTPRunner) Start(ctx context.Context) {
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		h.logger.Info("server listening", "addr", h.server.Addr)
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("server error", "error", err)
		}
	}()
	go func() {
		defer h.wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.grace)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error("server forced to shutdown", "error", err)
		}
	}()
}

func (h *HTTPRunner) Wait() { h.wg.Wait() }
