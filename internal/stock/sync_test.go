package stock_test

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ariefcatur/go-storefront-sync/internal/bus"
	"github.com/ariefcatur/go-storefront-sync/internal/metrics"
	"github.com/ariefcatur/go-storefront-sync/internal/stock"
	"github.com/ariefcatur/go-storefront-sync/internal/stock/stocktest"
)

// session is one client context: a cache and a bus on a shared channel.
type session struct {
	cache   *stock.Cache
	bus     *bus.Bus
	syncer  *stock.Syncer
	metrics *metrics.Registry
	changed chan []stock.ProductID
}

func newSession(c *qt.C, repo stock.Repository, ch bus.Channel) *session {
	m := metrics.NewRegistry()
	b, err := bus.New(bus.Config{Channel: ch, Clock: clock.WallClock, Metrics: m})
	c.Assert(err, qt.IsNil)
	c.Assert(b.Start(), qt.IsNil)
	cache, err := stock.NewCache(stock.CacheConfig{Repo: repo, Publisher: b, Clock: clock.WallClock, Metrics: m})
	c.Assert(err, qt.IsNil)
	s, err := stock.NewSyncer(stock.SyncerConfig{
		Cache:    cache,
		Bus:      b,
		Clock:    testclock.NewClock(time.Time{}),
		Interval: 30 * time.Second,
	})
	c.Assert(err, qt.IsNil)

	changed := make(chan []stock.ProductID, 16)
	cache.OnChange(func(ids []stock.ProductID) { changed <- ids })
	c.Assert(s.Start(context.Background()), qt.IsNil)
	c.Cleanup(func() {
		c.Check(s.Stop(), qt.IsNil)
		c.Check(b.Stop(), qt.IsNil)
	})
	<-changed // initial refresh
	return &session{cache: cache, bus: b, syncer: s, metrics: m, changed: changed}
}

func (s *session) waitChange(c *qt.C) []stock.ProductID {
	select {
	case ids := <-s.changed:
		return ids
	case <-time.After(waitFor):
		c.Fatalf("no cache change within %v", waitFor)
	}
	return nil
}

func (s *session) assertNoChange(c *qt.C) {
	select {
	case ids := <-s.changed:
		c.Fatalf("unexpected cache change %v", ids)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestContextsConvergeAfterPartialRefresh(t *testing.T) {
	c := qt.New(t)
	repo := stocktest.NewRepo(rec("X", 10, stock.StatusInStock), rec("Y", 4, stock.StatusLowStock))
	ch := bus.NewMemoryChannel()
	a := newSession(c, repo, ch)
	b := newSession(c, repo, ch)

	repo.Deduct("X", 2)
	c.Assert(a.cache.RefreshOne(context.Background(), "X"), qt.IsNil)
	c.Assert(a.waitChange(c), qt.DeepEquals, []stock.ProductID{"X"})
	c.Assert(b.waitChange(c), qt.DeepEquals, []stock.ProductID{"X"})

	c.Assert(a.cache.Snapshot().Records, qt.DeepEquals, b.cache.Snapshot().Records)
	got, _ := b.cache.Get("X")
	c.Assert(got.AvailableStock, qt.Equals, 8)

	// A refreshed once for its own update and B did not echo it back.
	a.assertNoChange(c)
	c.Assert(testutil.ToFloat64(a.metrics.Published), qt.Equals, 1.0)
	c.Assert(testutil.ToFloat64(b.metrics.Published), qt.Equals, 0.0)
	c.Assert(testutil.ToFloat64(b.metrics.Received), qt.Equals, 1.0)
	c.Assert(repo.Calls(), qt.Equals, 4)
}

func TestContextsConvergeAfterFullRefresh(t *testing.T) {
	c := qt.New(t)
	repo := stocktest.NewRepo(rec("1", 10, stock.StatusInStock))
	ch := bus.NewMemoryChannel()
	a := newSession(c, repo, ch)
	b := newSession(c, repo, ch)

	repo.Put(rec("2", 0, stock.StatusOutOfStock))
	c.Assert(a.cache.RefreshAll(context.Background()), qt.IsNil)
	c.Assert(b.waitChange(c), qt.IsNil)

	c.Assert(b.cache.Stats(), qt.DeepEquals, a.cache.Stats())
	c.Assert(b.cache.OutOfStock(), qt.HasLen, 1)

	value, ok, _ := ch.Get(context.Background(), bus.KeyAll)
	c.Assert(ok, qt.IsTrue)
	c.Assert(string(value), qt.Contains, a.bus.Origin())
}

func TestSyncerStopsFollowingBus(t *testing.T) {
	c := qt.New(t)
	repo := stocktest.NewRepo(rec("1", 10, stock.StatusInStock))
	ch := bus.NewMemoryChannel()
	a := newSession(c, repo, ch)
	b := newSession(c, repo, ch)

	c.Assert(b.syncer.Stop(), qt.IsNil)
	c.Assert(a.cache.RefreshOne(context.Background(), "1"), qt.IsNil)
	b.assertNoChange(c)
}

func TestSyncerStartReportsInitialFailure(t *testing.T) {
	c := qt.New(t)
	repo := stocktest.NewRepo(rec("1", 10, stock.StatusInStock))
	repo.SetErr(errors.New("backend down"))
	cache := newCache(c, repo, nil)
	clk := testclock.NewClock(time.Time{})
	s, err := stock.NewSyncer(stock.SyncerConfig{Cache: cache, Bus: noBus{}, Clock: clk, Interval: time.Minute})
	c.Assert(err, qt.IsNil)
	defer func() { c.Check(s.Stop(), qt.IsNil) }()

	err = s.Start(context.Background())
	c.Assert(err, qt.ErrorMatches, "initial stock refresh: refresh all stock: .*backend down")

	// The poller keeps retrying.
	repo.SetErr(nil)
	c.Assert(clk.WaitAdvance(time.Minute, waitFor, 1), qt.IsNil)
	c.Assert(clk.WaitAdvance(0, waitFor, 1), qt.IsNil)
	_, ok := cache.Get("1")
	c.Assert(ok, qt.IsTrue)
}

func TestNewSyncerValidates(t *testing.T) {
	_, err := stock.NewSyncer(stock.SyncerConfig{})
	qt.Assert(t, err, qt.ErrorMatches, "nil Cache not valid")
}

type noBus struct{}

func (noBus) Subscribe(bus.Handler) func() { return func() {} }
