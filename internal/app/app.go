package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"yakgreen/irrigation-server/internal/config"
	"yakgreen/irrigation-server/internal/ingest"
	"yakgreen/irrigation-server/internal/metrics"
	"yakgreen/irrigation-server/internal/mqttclient"
	"yakgreen/irrigation-server/internal/store"
)

const purgeInterval = time.Hour

// App wires together the irrigation services and manages their lifecycle.
type App struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *store.Store
	client   *mqttclient.Client
	manager  *ingest.SubscriptionManager
	location *time.Location
	mdns     *zeroconf.Server
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts all configured services and blocks until the context is
// cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	a.location = loc

	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = db

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	metrics.Init()

	pipeline := ingest.NewPipeline(a.logger, a.store)

	a.client = mqttclient.New(
		mqttclient.Options{
			BrokerURL:      a.cfg.BrokerURL,
			ClientIDPrefix: a.cfg.ClientIDPrefix,
		},
		a.logger,
		pipeline.HandleMessage,
		func(connectCtx context.Context) {
			if a.manager != nil {
				a.manager.HandleConnect(connectCtx)
			}
		},
	)
	a.manager = ingest.NewSubscriptionManager(a.logger, a.store, a.client, a.cfg.ResubscribeInterval)

	// With connect-retry enabled the client keeps dialing in the background,
	// so a broker that is down at boot only delays ingestion.
	if err := a.client.Connect(ctx); err != nil {
		a.logger.Warn("mqtt connection pending", "broker", a.cfg.BrokerURL, "error", err)
	}
	defer a.client.Disconnect()

	go a.manager.Run(ctx)
	go a.runRetentionSweeper(ctx)

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}
	metricsErrCh := make(chan error, 1)
	go func() {
		a.logger.Info("metrics server started", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErrCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler: a.routes(),
	}
	httpErrCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.cfg.EnableMDNS {
		if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		a.logger.Info("http server stopped")

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		a.logger.Info("metrics server stopped")
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return shutdown()
		case err := <-httpErrCh:
			if err != nil {
				_ = metricsServer.Shutdown(context.Background())
				return err
			}
		case err := <-metricsErrCh:
			if err != nil {
				_ = httpServer.Shutdown(context.Background())
				return err
			}
		}
	}
}

// runRetentionSweeper purges telemetry rows past the retention window, once
// at startup and then hourly for the lifetime of the process.
func (a *App) runRetentionSweeper(ctx context.Context) {
	a.purgeExpired(ctx)

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.purgeExpired(ctx)
		}
	}
}

func (a *App) purgeExpired(ctx context.Context) {
	purgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-a.cfg.Retention())
	removed, err := a.store.PurgeExpiredEvents(purgeCtx, cutoff)
	if err != nil {
		a.logger.Error("retention purge failed", "error", err)
		return
	}
	if removed > 0 {
		a.logger.Info("retention purge removed expired events", "count", removed, "cutoff", cutoff)
	}
}
