package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.ObserveRefresh("all", false, 0.1, nil)
	r.SetRecords(3)
	r.IncPublished()
	r.IncReceived()
	r.IncEchoDropped()
	r.IncUndecodable()
	r.ObserveOrderRequest("create", "ok")
}

func TestObserveRefresh(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()

	r.ObserveRefresh("all", false, 0.2, nil)
	r.ObserveRefresh("all", true, 0.2, nil)
	r.ObserveRefresh("many", false, 0.2, errors.New("boom"))

	c.Assert(testutil.ToFloat64(r.Refreshes.WithLabelValues("all", "false")), qt.Equals, 1.0)
	c.Assert(testutil.ToFloat64(r.Refreshes.WithLabelValues("all", "true")), qt.Equals, 1.0)
	c.Assert(testutil.ToFloat64(r.FetchFailures.WithLabelValues("many")), qt.Equals, 1.0)
}

func TestHandlerExposesCounters(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()
	r.IncEchoDropped()
	r.SetRecords(7)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	c.Assert(err, qt.IsNil)
	c.Assert(strings.Contains(string(body), "stock_bus_echo_dropped_total 1"), qt.IsTrue)
	c.Assert(strings.Contains(string(body), "stock_cache_records 7"), qt.IsTrue)
}
