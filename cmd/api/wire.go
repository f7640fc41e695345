package main

import (
	"context"

	"github.com/juju/errors"

	"github.com/ariefcatur/go-storefront-sync/internal/api"
	"github.com/ariefcatur/go-storefront-sync/internal/bus"
	"github.com/ariefcatur/go-storefront-sync/internal/config"
	"github.com/ariefcatur/go-storefront-sync/internal/kafka"
	"github.com/ariefcatur/go-storefront-sync/internal/postgres"
	"github.com/ariefcatur/go-storefront-sync/internal/redisx"
	"github.com/ariefcatur/go-storefront-sync/internal/stock"
)

// openStockRepo picks the stock source. The "api" source shares backend
// with the order endpoints.
func openStockRepo(ctx context.Context, cfg config.Config, backend *api.Client) (stock.Repository, func(), error) {
	switch cfg.StockSource {
	case "api":
		return backend, func() {}, nil
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		return &postgres.StockRepo{DB: pool}, pool.Close, nil
	default:
		return nil, nil, errors.NotValidf("STOCK_SOURCE %q", cfg.StockSource)
	}
}

func openChannel(ctx context.Context, cfg config.Config) (bus.Channel, func(), error) {
	switch cfg.BusBackend {
	case "memory":
		return bus.NewMemoryChannel(), func() {}, nil
	case "redis":
		rdb := redisx.New(cfg.RedisAddr)
		if err := redisx.Ping(ctx, rdb); err != nil {
			_ = rdb.Close()
			return nil, nil, errors.Trace(err)
		}
		return redisx.NewChannel(rdb, cfg.ServiceName), func() { _ = rdb.Close() }, nil
	case "kafka":
		ch, err := kafka.NewChannel(ctx, kafka.ChannelConfig{
			Brokers:     cfg.KafkaBrokers,
			Topic:       cfg.BusTopic,
			GroupPrefix: cfg.ServiceName,
		})
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		return ch, ch.Close, nil
	default:
		return nil, nil, errors.NotValidf("BUS_BACKEND %q", cfg.BusBackend)
	}
}
