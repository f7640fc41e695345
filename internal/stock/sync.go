package stock

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/ariefcatur/go-storefront-sync/internal/bus"
)

// Subscriber delivers other contexts' stock notifications.
type Subscriber interface {
	Subscribe(h bus.Handler) (unsubscribe func())
}

type SyncerConfig struct {
	Cache    *Cache
	Bus      Subscriber
	Clock    clock.Clock
	Interval time.Duration
}

func (c SyncerConfig) Validate() error {
	if c.Cache == nil {
		return errors.NotValidf("nil Cache")
	}
	if c.Bus == nil {
		return errors.NotValidf("nil Bus")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Syncer scopes a cache to a session: Start does the initial refresh,
// follows the bus and starts the poller; Stop undoes all of it.
type Syncer struct {
	cache       *Cache
	bus         Subscriber
	poller      *Poller
	unsubscribe func()
}

func NewSyncer(cfg SyncerConfig) (*Syncer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	p, err := NewPoller(cfg.Cache, cfg.Clock, cfg.Interval)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Syncer{cache: cfg.Cache, bus: cfg.Bus, poller: p}, nil
}

// Start subscribes to the bus and starts the poller before the initial
// refresh. A failed initial refresh is returned, but the syncer keeps
// running and the poller retries.
func (s *Syncer) Start(ctx context.Context) error {
	s.unsubscribe = s.bus.Subscribe(s.cache.HandleEnvelope)
	s.poller.Start()
	if err := s.cache.refreshAll(ctx, true); err != nil {
		return errors.Annotate(err, "initial stock refresh")
	}
	return nil
}

func (s *Syncer) Stop() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return errors.Trace(s.poller.Stop())
}

// HandleEnvelope applies another context's notification: a full refresh
// for an all-products event, otherwise a refresh of the named products.
// The refresh is quiet so notifications never bounce between contexts.
func (c *Cache) HandleEnvelope(ctx context.Context, env bus.Envelope) {
	var err error
	if env.All {
		err = c.refreshAll(ctx, true)
	} else {
		err = c.refreshMany(ctx, true, IDs(env.ProductIDs...))
	}
	if err != nil {
		logger.Warningf("applying stock notification %s from %s: %v", env.EventID, env.Origin, err)
	}
}
