// Package attractor is the high-level entry point for the pipeline engine.
// It wires the signal bus, checkpoint store, node leases and the terminal
// bridge from one configuration and runs them as a unit.
package attractor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"

	"github.com/bjornslib/attractor/internal/config"
	"github.com/bjornslib/attractor/internal/httpapi"
	"github.com/bjornslib/attractor/internal/logging"
	"github.com/bjornslib/attractor/pkg/checkpoint"
	"github.com/bjornslib/attractor/pkg/guardian"
	"github.com/bjornslib/attractor/pkg/lease"
	"github.com/bjornslib/attractor/pkg/observability"
	"github.com/bjornslib/attractor/pkg/signal"
	"github.com/bjornslib/attractor/pkg/terminal"
)

// Version is the engine release, overridable at link time.
var Version = "0.3.0"

// Engine bundles everything a full pipeline session needs.
type Engine struct {
	cfg         config.Config
	bus         *signal.Bus
	checkpoints *checkpoint.Manager
	bridge      *terminal.Bridge
	metrics     *observability.Metrics
	registry    *prometheus.Registry
	logger      *slog.Logger

	guardianOpts []guardian.Option
	bridgeOpts   []terminal.Option
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by all layers.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithGuardianOptions forwards options to every Guardian.
func WithGuardianOptions(opts ...guardian.Option) Option {
	return func(e *Engine) { e.guardianOpts = append(e.guardianOpts, opts...) }
}

// WithBridgeOptions forwards options to the terminal bridge.
func WithBridgeOptions(opts ...terminal.Option) Option {
	return func(e *Engine) { e.bridgeOpts = append(e.bridgeOpts, opts...) }
}

// New assembles an Engine from configuration.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.bus = signal.NewBus(cfg.SignalsDir, signal.WithLogger(e.logger))
	e.checkpoints = checkpoint.NewManager(cfg.CheckpointsDir)
	e.metrics, e.registry = observability.NewRegistered()

	var locker lease.Locker
	if cfg.RedisAddr != "" {
		locker = lease.NewRedisLocker(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), "attractor:")
	} else {
		locker = lease.NewFileLocker(cfg.LeasesDir)
	}

	binary, err := os.Executable()
	if err != nil {
		return nil, err
	}

	guardianOpts := append([]guardian.Option{
		guardian.WithLocker(locker),
		guardian.WithMetrics(e.metrics),
		guardian.WithLogger(e.logger),
		guardian.WithLauncher(&guardian.ExecLauncher{
			Binary:     binary,
			SignalsDir: cfg.SignalsDir,
		}),
	}, e.guardianOpts...)

	bridgeOpts := append([]terminal.Option{
		terminal.WithLogger(e.logger),
		terminal.WithGuardianOptions(guardianOpts...),
	}, e.bridgeOpts...)

	e.bridge = terminal.NewBridge(terminal.Config{
		Pipelines:     cfg.Pipelines,
		SignalTimeout: cfg.SignalTimeout.Std(),
		SignalPoll:    cfg.SignalPoll.Std(),
	}, e.bus, e.checkpoints, bridgeOpts...)

	return e, nil
}

// Bus exposes the signal bus, mainly for CLI subcommands.
func (e *Engine) Bus() *signal.Bus { return e.bus }

// Checkpoints exposes the checkpoint store.
func (e *Engine) Checkpoints() *checkpoint.Manager { return e.checkpoints }

// Status reports every supervised pipeline.
func (e *Engine) Status() []guardian.Snapshot { return e.bridge.Status() }

// Handler returns the HTTP status surface.
func (e *Engine) Handler() http.Handler {
	return httpapi.NewHandler(e.bridge, e.registry)
}

// Run executes every configured pipeline. When a listen address is
// configured the HTTP status server runs alongside and stops with the
// pipelines.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.ListenAddr == "" {
		return e.bridge.Run(ctx)
	}

	srv := &http.Server{Addr: e.cfg.ListenAddr, Handler: e.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("status server stopped", "err", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	e.logger.Info("status server listening", "addr", e.cfg.ListenAddr)
	return e.bridge.Run(ctx)
}
