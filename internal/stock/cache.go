// Package stock keeps the session's view of product stock.
//
// A Cache is the single owner of the records map. Callers read copies;
// every write replaces whole records under the cache lock. Full refreshes
// are single-flight; partial refreshes run freely and last write wins per
// product, which is safe because both read the same authoritative list.
package stock

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/go-storefront-sync/internal/apperr"
	"github.com/ariefcatur/go-storefront-sync/internal/bus"
	"github.com/ariefcatur/go-storefront-sync/internal/metrics"
)

var logger = loggo.GetLogger("storefront.stock")

const lateAnnounceTimeout = 10 * time.Second

// Publisher announces stock changes to other contexts.
type Publisher interface {
	Publish(ctx context.Context, ev bus.Event) error
}

// Listener is told which products changed; nil means any of them may have.
type Listener func(changed []ProductID)

type CacheConfig struct {
	Repo      Repository
	Publisher Publisher // optional
	Clock     clock.Clock
	Metrics   *metrics.Registry // optional
}

func (c CacheConfig) Validate() error {
	if c.Repo == nil {
		return errors.NotValidf("nil Repo")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Snapshot is a copy of the cache state.
type Snapshot struct {
	Records       map[ProductID]Record
	LastRefreshAt time.Time // zero until the first successful full refresh
	Refreshing    bool
}

type Cache struct {
	repo    Repository
	pub     Publisher
	clock   clock.Clock
	metrics *metrics.Registry

	flight singleflight.Group

	mu            sync.RWMutex
	records       map[ProductID]Record
	lastRefreshAt time.Time
	refreshing    bool

	lmu       sync.Mutex
	nextID    uint64
	listeners map[uint64]Listener
}

func NewCache(cfg CacheConfig) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Cache{
		repo:      cfg.Repo,
		pub:       cfg.Publisher,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		records:   make(map[ProductID]Record),
		listeners: make(map[uint64]Listener),
	}, nil
}

// flight is shared by every caller that joined one full refresh, so the
// change is announced at most once.
type flight struct {
	once sync.Once
	err  error
}

// RefreshAll fetches the full list and replaces every returned record. A
// call made while another full refresh is in flight waits for that one
// instead of fetching again. On failure the cache is left as it was.
func (c *Cache) RefreshAll(ctx context.Context) error {
	return c.refreshAll(ctx, false)
}

// refreshAll with quiet set does not publish. Poller ticks and refreshes
// caused by another context's notification are quiet.
func (c *Cache) refreshAll(ctx context.Context, quiet bool) error {
	ch := c.flight.DoChan("all", func() (any, error) {
		return &flight{}, c.replaceAll(context.WithoutCancel(ctx), quiet)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		if quiet || c.pub == nil {
			return nil
		}
		f := res.Val.(*flight)
		f.once.Do(func() { f.err = c.publish(ctx, bus.AllProducts()) })
		return f.err
	case <-ctx.Done():
		if !quiet && c.pub != nil {
			// The flight carries on without this caller; announce its
			// result once it lands.
			go c.announceLate(ctx, ch)
		}
		return apperr.Fetch("refresh all stock", 0, ctx.Err())
	}
}

func (c *Cache) announceLate(ctx context.Context, ch <-chan singleflight.Result) {
	res := <-ch
	if res.Err != nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lateAnnounceTimeout)
	defer cancel()
	f := res.Val.(*flight)
	f.once.Do(func() { f.err = c.publish(pctx, bus.AllProducts()) })
}

func (c *Cache) replaceAll(ctx context.Context, quiet bool) error {
	start := c.clock.Now()
	c.setRefreshing(true)
	defer c.setRefreshing(false)

	list, err := c.repo.ListStock(ctx)
	if err != nil {
		c.metrics.ObserveRefresh("all", quiet, 0, err)
		logger.Warningf("full stock refresh failed: %v", err)
		return fetchErr("refresh all stock", err)
	}
	fresh := index(list)

	c.mu.Lock()
	for id, r := range fresh {
		c.records[id] = r
	}
	c.lastRefreshAt = c.clock.Now()
	n := len(c.records)
	c.mu.Unlock()

	c.metrics.ObserveRefresh("all", quiet, c.clock.Now().Sub(start).Seconds(), nil)
	c.metrics.SetRecords(n)
	logger.Debugf("stock refreshed: %d products listed, %d cached", len(fresh), n)
	c.notify(nil)
	return nil
}

// RefreshOne is RefreshMany for a single product.
func (c *Cache) RefreshOne(ctx context.Context, id ProductID) error {
	return c.refreshMany(ctx, false, []ProductID{id})
}

// RefreshMany fetches the full list but only replaces the requested
// products, leaving the rest of the cache alone. It never joins an
// in-flight RefreshAll. Requested products the backend did not list keep
// their current record.
func (c *Cache) RefreshMany(ctx context.Context, ids ...ProductID) error {
	return c.refreshMany(ctx, false, ids)
}

func (c *Cache) refreshMany(ctx context.Context, quiet bool, ids []ProductID) error {
	want := dedup(ids)
	if len(want) == 0 {
		return nil
	}
	start := c.clock.Now()
	list, err := c.repo.ListStock(ctx)
	if err != nil {
		c.metrics.ObserveRefresh("many", quiet, 0, err)
		logger.Warningf("stock refresh of %v failed: %v", want, err)
		return fetchErr("refresh stock", err)
	}
	fresh := index(list)

	var changed []ProductID
	c.mu.Lock()
	for _, id := range want {
		if r, ok := fresh[id]; ok {
			c.records[id] = r
			changed = append(changed, id)
		}
	}
	n := len(c.records)
	c.mu.Unlock()

	if len(changed) == 0 {
		logger.Debugf("stock refresh of %v: none listed by backend", want)
		return nil
	}
	c.metrics.ObserveRefresh("many", quiet, c.clock.Now().Sub(start).Seconds(), nil)
	c.metrics.SetRecords(n)
	c.notify(changed)

	if quiet || c.pub == nil {
		return nil
	}
	return c.publish(ctx, bus.Products(toStrings(changed)...))
}

func (c *Cache) publish(ctx context.Context, ev bus.Event) error {
	if err := c.pub.Publish(ctx, ev); err != nil {
		logger.Warningf("announcing stock change: %v", err)
		return errors.Annotate(err, "announce stock change")
	}
	return nil
}

// Seed loads records without touching LastRefreshAt and without
// publishing. It is used to warm the cache from a local snapshot.
func (c *Cache) Seed(records []Record) {
	fresh := index(records)
	if len(fresh) == 0 {
		return
	}
	c.mu.Lock()
	for id, r := range fresh {
		c.records[id] = r
	}
	n := len(c.records)
	c.mu.Unlock()
	c.metrics.SetRecords(n)
	c.notify(nil)
}

func (c *Cache) Get(id ProductID) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	recs := make(map[ProductID]Record, len(c.records))
	for id, r := range c.records {
		recs[id] = r.clone()
	}
	return Snapshot{Records: recs, LastRefreshAt: c.lastRefreshAt, Refreshing: c.refreshing}
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ComputeStats(c.records)
}

// LowStock lists low and critical products ordered by id.
func (c *Cache) LowStock() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filterSorted(c.records, Record.IsLow)
}

// OutOfStock lists out-of-stock products ordered by id.
func (c *Cache) OutOfStock() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filterSorted(c.records, func(r Record) bool { return r.Status == StatusOutOfStock })
}

// OnChange registers l to run after every successful mutation. Listeners
// run on the mutating goroutine in no particular order.
func (c *Cache) OnChange(l Listener) (remove func()) {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.lmu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.lmu.Lock()
			delete(c.listeners, id)
			c.lmu.Unlock()
		})
	}
}

func (c *Cache) notify(changed []ProductID) {
	c.lmu.Lock()
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.lmu.Unlock()
	for _, l := range ls {
		var ids []ProductID
		if changed != nil {
			ids = append([]ProductID(nil), changed...)
		}
		l(ids)
	}
}

func (c *Cache) setRefreshing(v bool) {
	c.mu.Lock()
	c.refreshing = v
	c.mu.Unlock()
}

func fetchErr(op string, err error) error {
	if apperr.IsFetch(err) || apperr.IsAuth(err) {
		return errors.Annotate(err, op)
	}
	return apperr.Fetch(op, 0, err)
}

func dedup(ids []ProductID) []ProductID {
	seen := make(map[ProductID]struct{}, len(ids))
	out := make([]ProductID, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
