// Command inventory refreshes stock once and prints a report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/ariefcatur/go-storefront-sync/internal/api"
	"github.com/ariefcatur/go-storefront-sync/internal/config"
	"github.com/ariefcatur/go-storefront-sync/internal/inventory"
	"github.com/ariefcatur/go-storefront-sync/internal/postgres"
	"github.com/ariefcatur/go-storefront-sync/internal/snapshot"
	"github.com/ariefcatur/go-storefront-sync/internal/stock"
)

var logger = loggo.GetLogger("storefront.cmd.inventory")

func main() {
	asJSON := flag.Bool("json", false, "print the report as JSON")
	timeout := flag.Duration("timeout", 30*time.Second, "refresh timeout")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	if err := loggo.ConfigureLoggers(cfg.LogConfig); err != nil {
		logger.Warningf("bad LOG_CONFIG %q: %v", cfg.LogConfig, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	rep, err := report(ctx, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(rep)
	} else {
		err = rep.WriteText(os.Stdout)
	}
	if err != nil {
		logger.Errorf("writing report: %v", err)
		os.Exit(1)
	}
}

func report(ctx context.Context, cfg config.Config) (inventory.Report, error) {
	var repo stock.Repository
	switch cfg.StockSource {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return inventory.Report{}, errors.Trace(err)
		}
		defer pool.Close()
		repo = &postgres.StockRepo{DB: pool}
	default:
		c, err := api.New(api.Config{BaseURL: cfg.APIBaseURL, Token: cfg.APIToken, Timeout: cfg.RequestTimeout})
		if err != nil {
			return inventory.Report{}, errors.Trace(err)
		}
		repo = c
	}

	cache, err := stock.NewCache(stock.CacheConfig{Repo: repo, Clock: clock.WallClock})
	if err != nil {
		return inventory.Report{}, errors.Trace(err)
	}
	if err := cache.RefreshAll(ctx); err != nil {
		return inventory.Report{}, errors.Trace(err)
	}
	// Leave the refreshed records for the next session's warm start.
	if cfg.SnapshotDir != "" {
		store, err := snapshot.Open(cfg.SnapshotDir)
		if err != nil {
			logger.Warningf("%v", err)
		} else {
			defer store.Close()
			// A full refresh is the whole catalogue; drop products that
			// are gone from it.
			if err := store.Clear(); err != nil {
				logger.Warningf("clearing snapshot: %v", err)
			} else if err := store.Save(recordsOf(cache.Snapshot())); err != nil {
				logger.Warningf("saving snapshot: %v", err)
			}
		}
	}
	return inventory.Build(cache, clock.WallClock.Now()), nil
}

func recordsOf(s stock.Snapshot) []stock.Record {
	out := make([]stock.Record, 0, len(s.Records))
	for _, r := range s.Records {
		out = append(out, r)
	}
	return out
}
