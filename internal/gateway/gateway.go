package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/stellarlinkco/osulink/internal/channel"
	"github.com/stellarlinkco/osulink/internal/config"
	"github.com/stellarlinkco/osulink/internal/cron"
	"github.com/stellarlinkco/osulink/internal/linkstore"
	"github.com/stellarlinkco/osulink/internal/logging"
	"github.com/stellarlinkco/osulink/internal/metrics"
	"github.com/stellarlinkco/osulink/internal/osu"
)

const (
	presenceJob     = "presence"
	presenceFormat  = "osu! | %d linked players"
	shutdownTimeout = 5 * time.Second
)

// Options for creating a Gateway
type Options struct {
	SessionFactory channel.SessionFactory
	SignalChan     chan os.Signal // for testing signal handling
	HTTPClient     *http.Client   // used for osu! API calls
	Registry       *prometheus.Registry
	Logger         *zap.Logger
}

type Gateway struct {
	cfg        *config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	store      *linkstore.Store
	osu        *osu.Client
	discord    *channel.DiscordChannel
	cron       *cron.Service
	signalChan chan os.Signal // for testing

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		l, err := logging.New(cfg.Log)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	g := &Gateway{
		cfg:        cfg,
		logger:     logger.Named("gateway"),
		registry:   reg,
		metrics:    metrics.New(reg),
		signalChan: opts.SignalChan,
	}

	store, err := linkstore.Open(cfg.Store.Path, logger.Named("linkstore"))
	if err != nil {
		return nil, fmt.Errorf("open link store: %w", err)
	}
	g.store = store
	g.metrics.SetLinks(store.Len())

	g.osu = osu.New(cfg.Osu, osu.Options{
		HTTPClient: opts.HTTPClient,
		Logger:     logger.Named("osu"),
		Metrics:    g.metrics,
	})

	discord, err := channel.NewDiscordChannel(cfg.Discord, g.store, g.osu, channel.Options{
		SessionFactory: opts.SessionFactory,
		Logger:         logger.Named("discord"),
		Metrics:        g.metrics,
		OnReady:        g.onReady,
	})
	if err != nil {
		return nil, fmt.Errorf("create discord channel: %w", err)
	}
	g.discord = discord

	g.cron = cron.NewService(logger.Named("cron"))
	if cfg.Presence.Enabled {
		if err := g.cron.AddJob(presenceJob, cfg.Presence.Schedule, g.refreshPresence); err != nil {
			return nil, fmt.Errorf("presence: %w", err)
		}
	}

	return g, nil
}

// refreshPresence publishes the link count as the bot's activity and as a
// gauge. It runs on Ready and on the presence schedule.
func (g *Gateway) refreshPresence() error {
	n := g.store.Len()
	g.metrics.SetLinks(n)
	if !g.cfg.Presence.Enabled {
		return nil
	}
	if err := g.discord.SetStatus(fmt.Sprintf(presenceFormat, n)); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

func (g *Gateway) onReady() {
	if !g.cfg.Presence.Enabled {
		g.metrics.SetLinks(g.store.Len())
		return
	}
	// Ready refreshes count as runs of the presence job.
	if err := g.cron.RunJob(presenceJob); err != nil {
		g.logger.Warn("presence update failed", zap.Error(err))
	}
}

// Handler is the ops HTTP surface: liveness and Prometheus metrics.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{Registry: g.registry}))
	return r
}

// OpsAddr is the bound address of the ops server, or "" when it is not
// running.
func (g *Gateway) OpsAddr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

func (g *Gateway) startOps() error {
	ln, err := net.Listen("tcp", g.cfg.Gateway.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.cfg.Gateway.Addr(), err)
	}
	srv := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.mu.Lock()
	g.server = srv
	g.listener = ln
	g.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("ops server stopped", zap.Error(err))
		}
	}()
	g.logger.Info("ops server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if g.cfg.Gateway.Enabled {
		if err := g.startOps(); err != nil {
			return err
		}
	}

	if err := g.discord.Start(ctx); err != nil {
		return multierr.Append(fmt.Errorf("start discord: %w", err), g.Shutdown())
	}

	g.cron.Start(ctx)
	g.logger.Info("running",
		zap.Int("links", g.store.Len()),
		zap.String("store", g.store.Path()),
		zap.Bool("presence", g.cfg.Presence.Enabled),
	)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")
	return g.Shutdown()
}

// Shutdown stops the scheduler, the ops server and the Discord session,
// returning every error it met.
func (g *Gateway) Shutdown() error {
	var err error

	g.cron.Stop()

	g.mu.Lock()
	srv := g.server
	g.server = nil
	g.listener = nil
	g.mu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = multierr.Append(err, srv.Shutdown(ctx))
		cancel()
	}

	err = multierr.Append(err, g.discord.Stop())
	g.logger.Info("shutdown complete")
	_ = g.logger.Sync()
	return err
}
