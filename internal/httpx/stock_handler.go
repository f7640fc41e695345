package httpx

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/ariefcatur/go-storefront-sync/internal/apperr"
	"github.com/ariefcatur/go-storefront-sync/internal/bus"
	"github.com/ariefcatur/go-storefront-sync/internal/inventory"
	"github.com/ariefcatur/go-storefront-sync/internal/stock"
)

var logger = loggo.GetLogger("storefront.httpx")

// StockCache is what the view reads and refreshes.
type StockCache interface {
	inventory.Source
	Get(id stock.ProductID) (stock.Record, bool)
	RefreshAll(ctx context.Context) error
	RefreshMany(ctx context.Context, ids ...stock.ProductID) error
}

// ChangeLog reports the newest notification on the shared channel.
type ChangeLog interface {
	Last(ctx context.Context) (bus.Envelope, bool, error)
}

// StockHandler is a read-only view of one cache. Refresh requests go
// through the cache like any other caller's.
type StockHandler struct {
	Cache   StockCache
	Clock   clock.Clock
	Metrics http.Handler // optional
	Changes ChangeLog    // optional
	// MaxAge is how old the last full refresh may be before /readyz fails.
	MaxAge time.Duration
}

func (h *StockHandler) Register(r chi.Router) {
	r.Get("/readyz", h.ready)
	r.Route("/stock", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/stats", h.stats)
		r.Get("/low", h.low)
		r.Get("/out", h.out)
		r.Get("/report", h.report)
		r.Post("/refresh", h.refresh)
		if h.Changes != nil {
			r.Get("/last-change", h.lastChange)
		}
		r.Get("/{id}", h.get)
	})
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}
}

type stockList struct {
	Products      []stock.Record `json:"products"`
	LastRefreshAt *time.Time     `json:"lastRefreshAt,omitempty"`
	Refreshing    bool           `json:"refreshing"`
}

func (h *StockHandler) list(w http.ResponseWriter, r *http.Request) {
	snap := h.Cache.Snapshot()
	out := stockList{Products: make([]stock.Record, 0, len(snap.Records)), Refreshing: snap.Refreshing}
	for _, rec := range snap.Records {
		out.Products = append(out.Products, rec)
	}
	sort.Slice(out.Products, func(i, j int) bool { return out.Products[i].ProductID < out.Products[j].ProductID })
	if !snap.LastRefreshAt.IsZero() {
		at := snap.LastRefreshAt.UTC()
		out.LastRefreshAt = &at
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *StockHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := h.Cache.Get(stock.ProductID(id))
	if !ok {
		writeError(w, http.StatusNotFound, "product "+id+" not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *StockHandler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Cache.Stats())
}

func (h *StockHandler) low(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.Cache.LowStock()))
}

func (h *StockHandler) out(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.Cache.OutOfStock()))
}

func (h *StockHandler) report(w http.ResponseWriter, r *http.Request) {
	rep := inventory.Build(h.Cache, h.Clock.Now())
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := rep.WriteText(w); err != nil {
			logger.Warningf("writing report: %v", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *StockHandler) ready(w http.ResponseWriter, r *http.Request) {
	rep := inventory.Build(h.Cache, h.Clock.Now())
	if !rep.Fresh(h.MaxAge) {
		writeError(w, http.StatusServiceUnavailable, "stock not refreshed recently")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lastRefreshAt": rep.LastRefreshAt})
}

func (h *StockHandler) lastChange(w http.ResponseWriter, r *http.Request) {
	env, ok, err := h.Changes.Last(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// refresh runs a full refresh, or a partial one for ?ids=1,2,3.
func (h *StockHandler) refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var ids []stock.ProductID
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, stock.ProductID(id))
		}
	}
	var err error
	if len(ids) > 0 {
		err = h.Cache.RefreshMany(ctx, ids...)
	} else {
		err = h.Cache.RefreshAll(ctx)
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Cache.Stats())
}

// writeAppError maps err to a status. Errors the caller can act on are
// not logged.
func writeAppError(w http.ResponseWriter, err error) {
	if !apperr.IsExpected(err) {
		logger.Warningf("request failed: %v", err)
	}
	writeError(w, errorStatus(err), err.Error())
}

func errorStatus(err error) int {
	switch {
	case apperr.IsAuth(err):
		return http.StatusUnauthorized
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case apperr.IsConflict(err):
		return http.StatusConflict
	case apperr.IsFetch(err):
		var fe *apperr.FetchError
		if errors.As(err, &fe) && fe.Status == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func nonNil(rs []stock.Record) []stock.Record {
	if rs == nil {
		return []stock.Record{}
	}
	return rs
}
