package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/ariefcatur/go-storefront-sync/internal/api"
	"github.com/ariefcatur/go-storefront-sync/internal/bus"
	"github.com/ariefcatur/go-storefront-sync/internal/config"
	"github.com/ariefcatur/go-storefront-sync/internal/httpx"
	"github.com/ariefcatur/go-storefront-sync/internal/metrics"
	"github.com/ariefcatur/go-storefront-sync/internal/orders"
	"github.com/ariefcatur/go-storefront-sync/internal/snapshot"
	"github.com/ariefcatur/go-storefront-sync/internal/stock"
)

var logger = loggo.GetLogger("storefront.cmd.api")

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := loggo.ConfigureLoggers(cfg.LogConfig); err != nil {
		logger.Warningf("bad LOG_CONFIG %q: %v", cfg.LogConfig, err)
	}
	if err := run(cfg); err != nil {
		logger.Criticalf("%v", errors.ErrorStack(err))
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.NewRegistry()

	backend, err := api.New(api.Config{BaseURL: cfg.APIBaseURL, Token: cfg.APIToken, Timeout: cfg.RequestTimeout})
	if err != nil {
		return errors.Annotate(err, "api client")
	}
	repo, closeRepo, err := openStockRepo(ctx, cfg, backend)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeRepo()

	ch, closeChannel, err := openChannel(ctx, cfg)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeChannel()

	b, err := bus.New(bus.Config{Channel: ch, Clock: clock.WallClock, Metrics: m})
	if err != nil {
		return errors.Trace(err)
	}
	if err := b.Start(); err != nil {
		return errors.Annotate(err, "start bus")
	}
	defer func() {
		if err := b.Stop(); err != nil {
			logger.Warningf("stopping bus: %v", err)
		}
	}()

	cache, err := stock.NewCache(stock.CacheConfig{Repo: repo, Publisher: b, Clock: clock.WallClock, Metrics: m})
	if err != nil {
		return errors.Trace(err)
	}

	if cfg.SnapshotDir != "" {
		store, err := snapshot.Open(cfg.SnapshotDir)
		if err != nil {
			return errors.Trace(err)
		}
		defer store.Close()
		if n, err := store.Warm(cache); err != nil {
			logger.Warningf("warm start skipped: %v", err)
		} else {
			logger.Infof("warmed stock cache with %d products from %s", n, cfg.SnapshotDir)
		}
		defer store.Follow(cache)()
	}

	syncer, err := stock.NewSyncer(stock.SyncerConfig{Cache: cache, Bus: b, Clock: clock.WallClock, Interval: cfg.RefreshInterval})
	if err != nil {
		return errors.Trace(err)
	}
	if err := syncer.Start(ctx); err != nil {
		logger.Warningf("%v; serving cached stock until the next refresh", err)
	}
	defer func() {
		if err := syncer.Stop(); err != nil {
			logger.Warningf("stopping syncer: %v", err)
		}
	}()

	lifecycle, err := orders.New(orders.Config{
		Backend: backend,
		Stock:   cache,
		Clock:   clock.WallClock,
		Metrics: m,
		Policy:  orders.Policy{AllowResubmitAfterDenial: cfg.AllowResubmitAfterDenial},
	})
	if err != nil {
		return errors.Trace(err)
	}

	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Lifecycle: lifecycle, Orders: backend}).Register(router)
	(&httpx.StockHandler{
		Cache:   cache,
		Clock:   clock.WallClock,
		Metrics: m.Handler(),
		Changes: b,
		MaxAge:  3 * cfg.RefreshInterval,
	}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("%s listening at %s (stock from %s, bus %s)", cfg.ServiceName, cfg.HTTPAddr, cfg.StockSource, cfg.BusBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		logger.Infof("shutting down...")
	case err := <-errc:
		if err != nil {
			return errors.Annotate(err, "listen")
		}
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return errors.Annotate(srv.Shutdown(shutdownCtx), "shutdown http")
}
