package inventory

import (
	"context"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/clock/testclock"

	"github.com/ariefcatur/go-storefront-sync/internal/stock"
	"github.com/ariefcatur/go-storefront-sync/internal/stock/stocktest"
)

var now = time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)

func TestBuildAndWriteText(t *testing.T) {
	c := qt.New(t)
	repo := stocktest.NewRepo(
		stock.Record{ProductID: "1", DisplayName: "Tee", AvailableStock: 9, Status: stock.StatusInStock},
		stock.Record{ProductID: "2", DisplayName: "Cap", AvailableStock: 2, ReservedStock: 1, Status: stock.StatusCriticalStock},
		stock.Record{ProductID: "3", DisplayName: "Bag", Status: stock.StatusOutOfStock},
		stock.Record{ProductID: "4", DisplayName: "Pin", Status: "discontinued"},
	)
	clk := testclock.NewClock(now)
	cache, err := stock.NewCache(stock.CacheConfig{Repo: repo, Clock: clk})
	c.Assert(err, qt.IsNil)

	r := Build(cache, now)
	c.Assert(r.LastRefreshAt, qt.IsNil)
	c.Assert(r.Fresh(time.Hour), qt.IsFalse)

	c.Assert(cache.RefreshAll(context.Background()), qt.IsNil)
	r = Build(cache, now.Add(time.Minute))
	c.Assert(r.Stats.TotalProducts, qt.Equals, 4)
	c.Assert(r.Low, qt.HasLen, 1)
	c.Assert(r.Out, qt.HasLen, 1)
	c.Assert(r.Fresh(time.Minute), qt.IsTrue)
	c.Assert(r.Fresh(time.Second), qt.IsFalse)

	var b strings.Builder
	c.Assert(r.WriteText(&b), qt.IsNil)
	out := b.String()
	c.Assert(out, qt.Matches, `(?s)products +4\n.*critical_stock +1\n.*discontinued +1\n.*`)
	c.Assert(out, qt.Matches, `(?s).*last refresh +2026-02-10T08:30:00Z\n.*`)
	c.Assert(out, qt.Contains, "low stock (1)\n2")
	c.Assert(out, qt.Contains, "out of stock (1)\n3")
}
