// Package app wires configuration, logging, routing and the engine into a
// runnable server.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/fast-edge/config"
	"github.com/searchktools/fast-edge/core"
	"github.com/searchktools/fast-edge/core/logging"
	"github.com/searchktools/fast-edge/core/middleware"
	"github.com/searchktools/fast-edge/core/observability"
	"github.com/searchktools/fast-edge/core/pools"
	"github.com/searchktools/fast-edge/core/router"
)

// ShutdownTimeout bounds graceful shutdown after a signal
const ShutdownTimeout = 15 * time.Second

// App is the application instance
type App struct {
	cfg     *config.Config
	log     zerolog.Logger
	monitor *observability.Monitor
	tracer  *observability.SyscallTracer
	router  *router.Router
	engine  *core.Engine
}

// New creates an application with the default static and proxy routes
func New(cfg *config.Config) *App {
	log := logging.New(logging.Options{Level: cfg.LogLevel, Env: cfg.Env})
	a := NewWithRouter(cfg, router.New(), log)
	MountRoutes(a.router, cfg, a.tracer, log)
	return a
}

// NewWithRouter creates an application serving a pre-configured router
func NewWithRouter(cfg *config.Config, r *router.Router, log zerolog.Logger) *App {
	if prev := pools.ApplyGCConfig(pools.GCConfig{Percent: cfg.GCPercent}); prev >= 0 {
		log.Info().Int("gc_percent", cfg.GCPercent).Int("previous", prev).Msg("GC target adjusted")
	}

	workers := cfg.ProxyWorkers
	if workers == 0 {
		// engine convention for running blocking routes inline
		workers = -1
	}

	monitor := observability.NewMonitor()
	tracer := observability.NewSyscallTracer(cfg.TraceSyscalls)
	engine := core.NewEngine(r, core.Options{
		Addr:           cfg.Addr(),
		MaxConnections: cfg.MaxConnections,
		IdleTimeout:    cfg.IdleTimeout,
		ProxyWorkers:   workers,
		Logger:         log,
		Monitor:        monitor,
		Tracer:         tracer,
	})

	return &App{
		cfg:     cfg,
		log:     log,
		monitor: monitor,
		tracer:  tracer,
		router:  r,
		engine:  engine,
	}
}

// NewRouter builds the router described by cfg without a tracer
func NewRouter(cfg *config.Config, log zerolog.Logger) *router.Router {
	r := router.New()
	MountRoutes(r, cfg, nil, log)
	return r
}

// MountRoutes adds static files under StaticPrefix and the reverse proxy
// under ProxyPrefix, each wrapped in the configured middlewares. tracer may
// be nil.
func MountRoutes(r *router.Router, cfg *config.Config, tracer *observability.SyscallTracer, log zerolog.Logger) {
	wrap := Middlewares(cfg, log)

	if cfg.StaticPrefix != "" {
		static := router.NewStaticResponder(cfg.StaticRoot(), cfg.StaticPrefix, logging.Component(log, "static"))
		static.SniffMime = cfg.SniffMime
		r.Handle(cfg.StaticPrefix, router.RouteStatic, wrap(static))
	}
	if cfg.ProxyPrefix != "" {
		proxy := router.NewProxyResponder(cfg.ProxyPrefix, cfg.Backends, logging.Component(log, "proxy"))
		proxy.Tracer = tracer
		r.HandleBlocking(cfg.ProxyPrefix, router.RouteProxy, wrap(proxy))
	}
}

// Middlewares returns the chain cfg asks for. Recovery is always on.
func Middlewares(cfg *config.Config, log zerolog.Logger) middleware.Middleware {
	mws := []middleware.Middleware{middleware.Recovery(logging.Component(log, "recovery"))}
	if cfg.RequestID {
		mws = append(mws, middleware.RequestID())
	}
	if cfg.CORS {
		mws = append(mws, middleware.CORS())
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimiter(cfg.RateLimit))
	}
	return middleware.Chain(mws...)
}

// Engine returns the underlying engine
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Router returns the router; routes added before Run take effect
func (a *App) Router() *router.Router {
	return a.router
}

// Tracer returns the syscall tracer; it records only with trace_syscalls set
func (a *App) Tracer() *observability.SyscallTracer {
	return a.tracer
}

// Logger returns the application logger
func (a *App) Logger() zerolog.Logger {
	return a.log
}

// Run serves until SIGINT/SIGTERM or Shutdown, then logs final statistics
func (a *App) Run() error {
	go a.awaitSignal()

	a.log.Info().
		Str("addr", a.cfg.Addr()).
		Str("env", a.cfg.Env).
		Str("static_root", a.cfg.StaticRoot()).
		Strs("backends", a.cfg.Backends).
		Msg("fast-edge starting")

	err := a.engine.Run()
	a.logStats()
	if err != nil {
		a.log.Error().Err(err).Msg("server stopped with error")
	}
	return err
}

// Shutdown stops the engine
func (a *App) Shutdown(ctx context.Context) error {
	return a.engine.Shutdown(ctx)
}

func (a *App) awaitSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		a.log.Info().Stringer("signal", sig).Msg("signal received, shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := a.engine.Shutdown(ctx); err != nil {
			a.log.Error().Err(err).Msg("graceful shutdown failed")
		}
	case <-a.engine.Done():
	}
}

func (a *App) logStats() {
	s := a.engine.GetPoolStats()
	a.log.Info().
		Uint64("requests", s.Server.Requests).
		Uint64("accepted", s.Server.Accepted).
		Uint64("rejected", s.Server.Rejected).
		Uint64("parse_errors", s.Server.ParseErrors).
		Uint64("timed_out", s.Connection.TimedOut).
		Float64("request_pool_hit_rate", s.Request.HitRate).
		Dur("uptime", s.Server.Uptime).
		Msg("final statistics")

	for _, f := range s.Findings {
		a.log.Warn().Str("route", f.Route).Str("kind", f.Kind).Msg(f.Details)
	}
	a.log.Debug().Msg(a.engine.GetPoolStatsText())
	if a.tracer.Enabled() {
		a.log.Info().Msg(a.tracer.Report())
	}
}
