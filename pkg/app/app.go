// Package app assembles the transcript server from configuration and runs it
// until its context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/transcript-mcp/pkg/config"
	"github.com/ajitpratap0/transcript-mcp/pkg/logging"
	"github.com/ajitpratap0/transcript-mcp/pkg/observability"
	"github.com/ajitpratap0/transcript-mcp/pkg/server"
	"github.com/ajitpratap0/transcript-mcp/pkg/session"
	"github.com/ajitpratap0/transcript-mcp/pkg/transcript"
	"github.com/ajitpratap0/transcript-mcp/pkg/transport"
)

const readHeaderTimeout = 10 * time.Second

type options struct {
	logger  logging.Logger
	fetcher transcript.Fetcher
	probe   *transport.Probe
	version string
}

// Option customizes an App.
type Option func(*options)

// WithLogger replaces the logger built from the log configuration.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFetcher replaces the YouTube fetcher behind the transcript tool.
func WithFetcher(f transcript.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithProbe replaces the process-wide transport probe.
func WithProbe(p *transport.Probe) Option {
	return func(o *options) { o.probe = p }
}

// WithVersion sets the version reported in serverInfo and trace resources.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// App owns the session registry, the router and the observability
// providers for one server process.
type App struct {
	cfg      config.Config
	logger   logging.Logger
	registry *session.Registry
	router   *server.Router
	metrics  *observability.Metrics
	tracing  *observability.TracingProvider
	handler  http.Handler
}

// New wires every component for cfg. Nothing listens until Run or Serve.
func New(cfg config.Config, opts ...Option) (*App, error) {
	o := options{version: server.DefaultServerVersion}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		if logger, err = NewLogger(cfg.Log, os.Stderr); err != nil {
			return nil, err
		}
	}

	metrics, err := observability.NewMetrics(observability.MetricsConfig{IncludeRuntime: true})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	var tracing *observability.TracingProvider
	if observability.ExporterType(cfg.Tracing.Exporter) != observability.ExporterTypeNoop {
		tracing, err = observability.NewTracingProvider(observability.TracingConfig{
			ServiceName:    server.DefaultServerName,
			ServiceVersion: o.version,
			ExporterType:   observability.ExporterType(cfg.Tracing.Exporter),
			Endpoint:       cfg.Tracing.Endpoint,
			Insecure:       cfg.Tracing.Insecure,
			SampleRate:     cfg.Tracing.SampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create tracing provider: %w", err)
		}
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = transcript.NewYouTube(transcript.WithLogger(logger))
	}
	tools := server.NewBaseToolsProvider()
	tools.RegisterTool(server.TranscriptTool(), server.TranscriptHandler(fetcher))

	dispatcher := server.NewDispatcher(
		server.WithServerInfo(server.DefaultServerName, o.version),
		server.WithProtocolVersion(cfg.ProtocolVersion),
		server.WithToolsProvider(tools),
		server.WithDispatcherLogger(logger),
		server.WithToolObserver(metrics),
	)

	registry := session.NewRegistry(cfg,
		session.WithLogger(logger),
		session.WithObserver(metrics),
	)

	routerOpts := []server.RouterOption{
		server.WithRouterLogger(logger),
		server.WithAdmissionObserver(metrics),
	}
	if o.probe != nil {
		routerOpts = append(routerOpts, server.WithProbe(o.probe))
	}
	router := server.NewRouter(cfg, registry, dispatcher, routerOpts...)

	handler := observability.HTTPMiddleware(metrics, tracing, server.RouteLabel)(router)
	handler = logging.HTTPMiddleware(logger)(handler)

	return &App{
		cfg:      cfg,
		logger:   logger.WithFields(logging.String("component", "app")),
		registry: registry,
		router:   router,
		metrics:  metrics,
		tracing:  tracing,
		handler:  handler,
	}, nil
}

// NewLogger builds the process logger from the log configuration.
func NewLogger(cfg config.LogConfig, w io.Writer) (logging.Logger, error) {
	formatter, err := logging.NewFormatter(cfg.Format)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(w, formatter)
	logger.SetLevel(level)
	return logger, nil
}

// Handler returns the fully wrapped MCP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) Registry() *session.Registry {
	return a.registry
}

func (a *App) Metrics() *observability.Metrics {
	return a.metrics
}

// Run listens on the configured address and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves MCP traffic on ln, the metrics endpoint when configured and
// the session sweeper. It returns after a graceful shutdown once ctx is done
// or any of them fails.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	var metricsSrv *http.Server
	if a.cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              a.cfg.MetricsAddr,
			Handler:           a.metrics.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Listening",
			logging.String("addr", ln.Addr().String()),
			logging.String("endpoint", server.Endpoint),
			logging.Int("max_clients", a.cfg.MaxClients))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	})

	if metricsSrv != nil {
		g.Go(func() error {
			a.logger.Info("Serving metrics", logging.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		a.sweep(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown(srv, metricsSrv)
	})

	return g.Wait()
}

// sweep removes sessions older than the configured maximum age on every
// sweep interval.
func (a *App) sweep(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids := a.registry.SweepExpired(a.cfg.MaxSessionAge); len(ids) > 0 {
				a.logger.Info("Swept expired sessions", logging.Int("count", len(ids)))
			}
		}
	}
}

func (a *App) shutdown(srv, metricsSrv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	a.logger.Info("Shutting down", logging.Int("sessions", a.registry.Count()))

	// The router refuses new sessions before the registry empties, so no
	// stream outlives CloseAll and Shutdown never waits on one.
	a.router.Drain()
	a.registry.CloseAll()

	var errs []error
	if err := a.router.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain stream dispatches: %w", err))
	}
	// Sessions whose creation was already admitted when draining began.
	a.registry.CloseAll()

	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("mcp server shutdown: %w", err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
