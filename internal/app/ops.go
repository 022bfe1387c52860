package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livetutor/internal/health"
	"github.com/MrWong99/livetutor/internal/observe"
	"github.com/MrWong99/livetutor/internal/resilience"
)

// opsShutdownTimeout bounds the graceful stop of the operations listener.
const opsShutdownTimeout = 5 * time.Second

// breakerSource is implemented by context sources guarded by a circuit
// breaker.
type breakerSource interface {
	Breaker() *resilience.CircuitBreaker
}

// OpsHandler returns the operations mux: /metrics, /healthz and /readyz,
// wrapped in the tracing and metrics middleware.
func (a *App) OpsHandler() http.Handler {
	checkers := []health.Checker{health.SessionReady(a.State)}
	if bs, ok := a.contexts.(breakerSource); ok {
		checkers = append(checkers, health.BreakerClosed("context_api", bs.Breaker()))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)
	return observe.Middleware(a.metrics, "/metrics", "/healthz", "/readyz")(mux)
}

// serveOps runs the operations listener in g until ctx is done.
func (a *App) serveOps(ctx context.Context, g *errgroup.Group, addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.OpsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		slog.Info("operations listener started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: ops listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), opsShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}
