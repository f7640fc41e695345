package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-storefront-sync/internal/orders"
)

// OrderSource fetches the backend's current view of one order.
type OrderSource interface {
	Order(ctx context.Context, id string) (orders.Order, error)
}

// OrdersHandler runs customer order actions through the lifecycle, so the
// session's stock cache is refreshed after each one.
//
// It keeps a projection of every order it has seen. Each fetch is folded
// into that projection, so a backend copy that moves an order backwards
// is refused and an admin cancellation refreshes the order's stock.
type OrdersHandler struct {
	Lifecycle *orders.Lifecycle
	Orders    OrderSource

	mu   sync.Mutex
	seen map[string]*projection
}

type projection struct {
	mu    sync.Mutex
	order *orders.Order
}

// entry returns the projection for id locked. Actions on one order are
// serialized.
func (h *OrdersHandler) entry(id string) *projection {
	h.mu.Lock()
	if h.seen == nil {
		h.seen = make(map[string]*projection)
	}
	p, ok := h.seen[id]
	if !ok {
		p = &projection{}
		h.seen[id] = p
	}
	h.mu.Unlock()
	p.mu.Lock()
	return p
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Get("/{id}/items", h.items)
		r.Post("/{id}/confirm", h.confirm)
		r.Post("/{id}/cancellation", h.requestCancellation)
		r.Post("/{id}/received", h.received)
		r.Post("/{id}/refund", h.refund)
	})
}

type proofUpload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"` // base64
}

type checkoutRequest struct {
	orders.Checkout
	PaymentProof proofUpload `json:"payment_proof"`
}

type orderResponse struct {
	Order                orders.Order `json:"order"`
	AwaitingVerification bool         `json:"awaitingVerification,omitempty"`
	// StockWarning is set when the order went through but the stock
	// refresh after it failed.
	StockWarning string `json:"stockWarning,omitempty"`
	// StaleFetch is set when the backend copy was refused and the
	// projection returned instead.
	StaleFetch string `json:"staleFetch,omitempty"`
}

func warn(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (h *OrdersHandler) create(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	in := req.Checkout
	in.PaymentProof = orders.Attachment{
		Filename:    req.PaymentProof.Filename,
		ContentType: req.PaymentProof.ContentType,
		Data:        req.PaymentProof.Data,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	res, err := h.Lifecycle.Create(ctx, in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	p := h.entry(res.Order.ID)
	o := res.Order
	p.order = &o
	p.mu.Unlock()
	writeJSON(w, http.StatusCreated, orderResponse{Order: res.Order, StockWarning: warn(res.StockErr)})
}

// loaded is an order fetched and folded into its projection. The caller
// holds the projection until done is called.
type loaded struct {
	*orders.Order
	resp orderResponse
	done func()
}

// load fetches the order named in the path and folds it into the
// projection, writing the error response itself when the fetch fails.
func (h *OrdersHandler) load(ctx context.Context, w http.ResponseWriter, r *http.Request) (loaded, bool) {
	id := chi.URLParam(r, "id")
	p := h.entry(id)
	fetched, err := h.Orders.Order(ctx, id)
	if err != nil {
		p.mu.Unlock()
		writeAppError(w, err)
		return loaded{}, false
	}
	out := loaded{done: p.mu.Unlock}
	if p.order == nil {
		p.order = &fetched
	} else {
		res, err := h.Lifecycle.Observe(ctx, p.order, fetched)
		if err != nil {
			logger.Warningf("keeping order %s projection: %v", id, err)
			out.resp.StaleFetch = err.Error()
		}
		out.resp.StockWarning = warn(res.StockErr)
	}
	out.Order = p.order
	return out, true
}

// reply writes the projection with any warnings gathered while loading it.
func (o loaded) reply(w http.ResponseWriter, status int, stockErr error) {
	o.resp.Order = *o.Order
	if stockErr != nil {
		o.resp.StockWarning = stockErr.Error()
	}
	writeJSON(w, status, o.resp)
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	o, ok := h.load(ctx, w, r)
	if !ok {
		return
	}
	defer o.done()
	o.reply(w, http.StatusOK, nil)
}

func (h *OrdersHandler) items(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	o := &orders.Order{ID: chi.URLParam(r, "id")}
	if err := h.Lifecycle.LoadItems(ctx, o); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.Items)
}

func (h *OrdersHandler) confirm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	o, ok := h.load(ctx, w, r)
	if !ok {
		return
	}
	defer o.done()
	res, err := h.Lifecycle.SubmitForVerification(ctx, o.Order)
	if err != nil {
		writeAppError(w, err)
		return
	}
	o.resp.AwaitingVerification = res.AwaitingVerification
	o.reply(w, http.StatusOK, res.StockErr)
}

func (h *OrdersHandler) requestCancellation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	// The reason is checked before the order is fetched.
	if err := orders.CheckReason(req.Reason); err != nil {
		writeAppError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	o, ok := h.load(ctx, w, r)
	if !ok {
		return
	}
	defer o.done()
	if err := h.Lifecycle.RequestCancellation(ctx, o.Order, req.Reason); err != nil {
		writeAppError(w, err)
		return
	}
	o.reply(w, http.StatusAccepted, nil)
}

func (h *OrdersHandler) received(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	o, ok := h.load(ctx, w, r)
	if !ok {
		return
	}
	defer o.done()
	if err := h.Lifecycle.MarkReceived(ctx, o.Order); err != nil {
		writeAppError(w, err)
		return
	}
	o.reply(w, http.StatusOK, nil)
}

func (h *OrdersHandler) refund(w http.ResponseWriter, r *http.Request) {
	var in orders.RefundInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	o, ok := h.load(ctx, w, r)
	if !ok {
		return
	}
	defer o.done()
	if err := h.Lifecycle.RequestRefund(ctx, o.Order, in); err != nil {
		writeAppError(w, err)
		return
	}
	o.reply(w, http.StatusAccepted, nil)
}
