// Package app wires configuration into a running shelfard: the registry
// backend, the fetcher, the drift service and, for serve, the HTTP API.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	httpapi "github.com/shelfard/shelfard/internal/api/http"
	"github.com/shelfard/shelfard/internal/config"
	"github.com/shelfard/shelfard/internal/drift"
	"github.com/shelfard/shelfard/internal/fetch"
	"github.com/shelfard/shelfard/internal/infer"
	"github.com/shelfard/shelfard/internal/observability"
	"github.com/shelfard/shelfard/internal/registry"
	"github.com/shelfard/shelfard/internal/server"
)

// StatsWindow is how long a drifting path stays in the drift statistics
// without being seen again.
const StatsWindow = 24 * time.Hour

// App manages the shelfard resources shared by the CLI and the server.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	registry registry.Registry
	service  *drift.Service
	metrics  *observability.Metrics
	stats    *observability.DriftStats

	// Lifecycle
	mu     sync.Mutex
	opened bool
	wg     sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &App{cfg: cfg, logger: logger}, nil
}

// Open connects the registry and builds the drift service. It is idempotent.
func (a *App) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return nil
	}

	reg, err := registry.Open(ctx, a.cfg.Registry, registry.Options{
		Logger:      a.logger,
		LockTimeout: a.cfg.Registry.LockTimeout,
	})
	if err != nil {
		return err
	}
	a.logger.Debug("registry opened", "backend", a.cfg.Registry.Backend, "path", a.cfg.Registry.Path)

	a.registry = reg
	a.metrics = observability.NewMetrics()
	a.stats = observability.NewDriftStats(StatsWindow)
	a.service = &drift.Service{
		Fetcher: fetch.NewRESTFetcher(fetch.Options{
			Timeout:    a.cfg.Fetch.Timeout,
			MaxRetries: a.cfg.Fetch.MaxRetries,
			UserAgent:  a.cfg.Fetch.UserAgent,
			Logger:     a.logger,
		}),
		Inferencer: infer.New(a.cfg.Infer.SampleSize),
		Registry:   reg,
		Metrics:    a.metrics,
		Stats:      a.stats,
		Logger:     a.logger,
	}
	a.opened = true
	return nil
}

// Service returns the drift service. Open must have succeeded.
func (a *App) Service() *drift.Service {
	return a.service
}

// Registry returns the registry. Open must have succeeded.
func (a *App) Registry() registry.Registry {
	return a.registry
}

// Handler builds the API handler with extra outer middleware.
func (a *App) Handler(middleware ...func(http.Handler) http.Handler) http.Handler {
	return httpapi.NewRouter(httpapi.RouterConfig{
		Service:      a.service,
		Metrics:      a.metrics,
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
		Middleware:   middleware,
		Logger:       a.logger,
	})
}

// Serve runs the HTTP API until ctx is cancelled or a termination signal
// arrives, then drains requests and closes the registry.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Open(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	shutdownCfg := server.DefaultShutdownConfig()
	shutdownCfg.Logger = a.logger
	sm := server.NewShutdownManager(shutdownCfg)
	sm.RegisterCloser(server.CloserFunc(a.Close))

	srv := &http.Server{
		Handler:      a.Handler(sm.Middleware),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	a.wg.Add(1)
	go a.pruneLoop(pruneCtx, time.Hour)

	serveErr := make(chan error, 1)
	go func() {
		err := sm.Serve(srv, ln)
		if err != nil {
			a.logger.Error("http server failed", "err", err)
			sm.Shutdown(context.Background(), "server error")
		}
		serveErr <- err
	}()
	a.logger.Info("shelfard listening", "addr", ln.Addr().String(), "backend", a.cfg.Registry.Backend)

	err := sm.ListenForSignals(ctx)
	if serr := <-serveErr; serr != nil {
		err = serr
	}

	stopPrune()
	a.wg.Wait()
	a.logger.Info("shelfard stopped")
	return err
}

func (a *App) pruneLoop(ctx context.Context, every time.Duration) {
	defer a.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.stats.Prune()
		}
	}
}

// Close releases the registry.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.opened {
		return nil
	}
	a.opened = false
	return a.registry.Close()
}
