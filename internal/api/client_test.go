package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-sync/internal/apperr"
	"github.com/ariefcatur/go-storefront-sync/internal/orders"
	"github.com/ariefcatur/go-storefront-sync/internal/stock"
)

const token = "test-token"

func newServer(c *qt.C, setup func(r chi.Router)) *Client {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Authorization") != "Bearer "+token {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Token is not valid"})
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	setup(r)
	srv := httptest.NewServer(r)
	c.Cleanup(srv.Close)
	cl, err := New(Config{BaseURL: srv.URL + "/", Token: token, Timeout: 5 * time.Second})
	c.Assert(err, qt.IsNil)
	return cl
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const productsJSON = `[
	{
		"product_id": 7,
		"productname": "Classic Tee",
		"total_stock": 12,
		"total_available_stock": 10,
		"total_reserved_stock": 2,
		"stock_status": "in_stock",
		"last_stock_update": "2025-07-05T10:00:00Z",
		"sizeColorVariants": [
			{"size": "M", "colorStocks": [{"color": "Black", "stock": 6}, {"color": "White", "stock": 4}]}
		]
	},
	{"product_id": "8", "productname": "Cap", "total_available_stock": 0, "stock_status": "out_of_stock"}
]`

func TestNewValidates(t *testing.T) {
	c := qt.New(t)
	_, err := New(Config{})
	c.Assert(err, qt.ErrorMatches, "empty BaseURL not valid")
	_, err = New(Config{BaseURL: "localhost:5000"})
	c.Assert(err, qt.ErrorMatches, `BaseURL "localhost:5000" not valid`)
}

func TestListStockBareArray(t *testing.T) {
	c := qt.New(t)
	cl := newServer(c, func(r chi.Router) {
		r.Get("/products", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, productsJSON)
		})
	})

	recs, err := cl.ListStock(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(recs, qt.HasLen, 2)
	c.Assert(recs[0], qt.DeepEquals, stock.Record{
		ProductID:      "7",
		DisplayName:    "Classic Tee",
		TotalStock:     12,
		AvailableStock: 10,
		ReservedStock:  2,
		Status:         stock.StatusInStock,
		Variants: []stock.SizeVariant{{
			Size:   "M",
			Colors: []stock.ColorStock{{Color: "Black", Stock: 6}, {Color: "White", Stock: 4}},
		}},
		LastUpdated: time.Date(2025, 7, 5, 10, 0, 0, 0, time.UTC),
	})
	c.Assert(recs[1].ProductID, qt.Equals, stock.ProductID("8"))
}

func TestListStockEnvelope(t *testing.T) {
	c := qt.New(t)
	cl := newServer(c, func(r chi.Router) {
		r.Get("/products", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"success": true, "data": `+productsJSON+`}`)
		})
	})
	recs, err := cl.ListStock(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(recs, qt.HasLen, 2)
}

func TestListStockFailures(t *testing.T) {
	tests := []struct {
		about  string
		status int
		body   string
		check  func(error) bool
		expect string
	}{{
		about:  "server error",
		status: http.StatusInternalServerError,
		body:   `{"success": false, "message": "Database error"}`,
		check:  apperr.IsFetch,
		expect: "GET /products: status 500: Database error",
	}, {
		about:  "bad json",
		status: http.StatusOK,
		body:   `[{"product_id": `,
		check:  apperr.IsFetch,
		expect: "GET /products: decode response: .*",
	}, {
		about:  "no data",
		status: http.StatusOK,
		body:   `{"success": true}`,
		check:  apperr.IsFetch,
		expect: "GET /products: response has no data",
	}, {
		about:  "forbidden",
		status: http.StatusForbidden,
		body:   `{"message": "Admin access required"}`,
		check:  apperr.IsAuth,
		expect: "Admin access required",
	}, {
		about:  "refused with 200",
		status: http.StatusOK,
		body:   `{"success": false, "message": "Stock sync is already running"}`,
		check:  apperr.IsConflict,
		expect: "Stock sync is already running",
	}, {
		about:  "invalid with 200",
		status: http.StatusOK,
		body:   `{"success": false, "error": "Invalid product filter"}`,
		check:  apperr.IsValidation,
		expect: "Invalid product filter",
	}}
	c := qt.New(t)
	for _, test := range tests {
		c.Run(test.about, func(c *qt.C) {
			cl := newServer(c, func(r chi.Router) {
				r.Get("/products", func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(test.status)
					_, _ = io.WriteString(w, test.body)
				})
			})
			_, err := cl.ListStock(context.Background())
			c.Assert(test.check(err), qt.IsTrue, qt.Commentf("%v", err))
			c.Assert(err, qt.ErrorMatches, test.expect)
		})
	}
}

func TestMissingTokenIsAuthError(t *testing.T) {
	c := qt.New(t)
	cl := newServer(c, func(r chi.Router) {
		r.Get("/products", func(w http.ResponseWriter, req *http.Request) {
			c.Errorf("handler reached without a token")
		})
	})
	cl.token = ""
	_, err := cl.ListStock(context.Background())
	c.Assert(apperr.IsAuth(err), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, "Token is not valid")
}

func TestTimeoutIsFetchError(t *testing.T) {
	c := qt.New(t)
	release := make(chan struct{})
	defer close(release)
	cl := newServer(c, func(r chi.Router) {
		r.Get("/products", func(w http.ResponseWriter, req *http.Request) {
			select {
			case <-release:
			case <-req.Context().Done():
			}
		})
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := cl.ListStock(ctx)
	c.Assert(apperr.IsFetch(err), qt.IsTrue)
}

func TestStatusErr(t *testing.T) {
	c := qt.New(t)
	err := statusErr("POST /orders/cancellation-requests", http.StatusBadRequest,
		[]byte(`{"success": false, "message": "A cancellation request for this order is already pending"}`))
	c.Assert(apperr.IsConflict(err), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, "A cancellation request for this order is already pending")

	err = statusErr("POST /orders", http.StatusBadRequest, []byte(`{"message": "Shipping address and contact phone are required"}`))
	c.Assert(apperr.IsValidation(err), qt.IsTrue)

	err = statusErr("POST /orders/refund-request", http.StatusConflict, []byte(`{"error": "Refund exists"}`))
	c.Assert(apperr.IsConflict(err), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, "Refund exists")

	err = statusErr("GET /orders/9/items", http.StatusNotFound, nil)
	c.Assert(err, qt.ErrorMatches, "GET /orders/9/items: status 404: Not Found")
}

func TestUnsuccessfulEnvelopeOn200(t *testing.T) {
	c := qt.New(t)
	cl := newServer(c, func(r chi.Router) {
		r.Post("/orders/{id}/mark-received", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Order is not yet delivered"})
		})
	})
	err := cl.MarkReceived(context.Background(), "5")
	c.Assert(apperr.IsValidation(err), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, "Order is not yet delivered")
}

func TestCreateOrderSendsMultipart(t *testing.T) {
	c := qt.New(t)
	var form *http.Request
	var proof []byte
	cl := newServer(c, func(r chi.Router) {
		r.Post("/orders", func(w http.ResponseWriter, req *http.Request) {
			c.Check(req.ParseMultipartForm(1<<20), qt.IsNil)
			f, hdr, err := req.FormFile("payment_proof")
			c.Check(err, qt.IsNil)
			c.Check(hdr.Filename, qt.Equals, "proof.jpg")
			c.Check(hdr.Header.Get("Content-Type"), qt.Equals, "image/jpeg")
			proof, _ = io.ReadAll(f)
			form = req
			writeJSON(w, http.StatusCreated, map[string]any{
				"success": true,
				"message": "Order created successfully",
				"data": map[string]any{
					"id":             101,
					"order_number":   "ORD-20250705-0101",
					"status":         "pending",
					"payment_status": "pending",
				},
				"stockUpdateEvent": map[string]any{"productIds": []any{7, "8"}},
			})
		})
	})

	in := orders.Checkout{
		CustomerName:     "Ana Santos",
		CustomerEmail:    "ana@example.com",
		CustomerPhone:    "09171234567",
		Address:          orders.Address{Street: "12 Mabini St", City: "Quezon City", Province: "Metro Manila", PostalCode: "1100"},
		PaymentReference: "GCASH-5521",
		PaymentProof:     orders.Attachment{Filename: "proof.jpg", ContentType: "image/jpeg", Data: []byte("jpeg-bytes")},
		Items:            []orders.LineItem{{ProductID: "7", Quantity: 2, UnitPrice: decimal.NewFromInt(450)}},
	}
	resp, err := cl.CreateOrder(context.Background(), in)
	c.Assert(err, qt.IsNil)
	c.Assert(resp.StockEvent.ProductIDs, qt.DeepEquals, []stock.ProductID{"7", "8"})
	c.Assert(resp.Order.ID, qt.Equals, "101")
	c.Assert(resp.Order.OrderNumber, qt.Equals, "ORD-20250705-0101")
	c.Assert(resp.Order.Status, qt.Equals, orders.StatusPending)
	c.Assert(resp.Order.ItemsLoaded, qt.IsFalse)

	c.Assert(form.FormValue("customer_email"), qt.Equals, "ana@example.com")
	c.Assert(form.FormValue("contact_phone"), qt.Equals, "09171234567")
	c.Assert(form.FormValue("shipping_address"), qt.Equals, "12 Mabini St, Quezon City, Metro Manila 1100")
	var items []orders.LineItem
	c.Assert(json.Unmarshal([]byte(form.FormValue("items")), &items), qt.IsNil)
	c.Assert(items[0].Quantity, qt.Equals, 2)
	c.Assert(string(proof), qt.Equals, "jpeg-bytes")
}

func TestOrderIDDecodesFromNumber(t *testing.T) {
	c := qt.New(t)
	cl := newServer(c, func(r chi.Router) {
		r.Get("/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data": map[string]any{
					"id":     42,
					"status": "delivered",
					"items":  []any{},
				},
			})
		})
	})
	o, err := cl.Order(context.Background(), "42")
	c.Assert(err, qt.IsNil)
	c.Assert(o.ID, qt.Equals, "42")
	c.Assert(o.Status, qt.Equals, orders.StatusDelivered)
	// An empty list is still a loaded list.
	c.Assert(o.ItemsLoaded, qt.IsTrue)
	c.Assert(o.Items, qt.HasLen, 0)
}

func TestConfirmOrder(t *testing.T) {
	c := qt.New(t)
	cl := newServer(c, func(r chi.Router) {
		r.Post("/orders/{id}/confirm", func(w http.ResponseWriter, req *http.Request) {
			c.Check(chi.URLParam(req, "id"), qt.Equals, "101")
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data": map[string]any{
					"awaitingVerification": true,
					"stockAlreadyDeducted": false,
					"stockUpdateEvent":     map[string]any{"productIds": []string{"7"}},
				},
			})
		})
	})
	resp, err := cl.ConfirmOrder(context.Background(), "101")
	c.Assert(err, qt.IsNil)
	c.Assert(resp.AwaitingVerification, qt.IsTrue)
	c.Assert(resp.StockAlreadyDeducted, qt.IsFalse)
	c.Assert(resp.StockEvent.ProductIDs, qt.DeepEquals, []stock.ProductID{"7"})
}

func TestRequestCancellationBody(t *testing.T) {
	c := qt.New(t)
	var got map[string]any
	cl := newServer(c, func(r chi.Router) {
		r.Post("/orders/cancellation-requests", func(w http.ResponseWriter, req *http.Request) {
			c.Check(json.NewDecoder(req.Body).Decode(&got), qt.IsNil)
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		})
	})
	err := cl.RequestCancellation(context.Background(), orders.CancellationPayload{CustomOrderID: "CUSTOM-1", Reason: "No longer needed"})
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, map[string]any{"customOrderId": "CUSTOM-1", "reason": "No longer needed"})
}

func TestRequestRefundBody(t *testing.T) {
	c := qt.New(t)
	var got orders.RefundPayload
	cl := newServer(c, func(r chi.Router) {
		r.Post("/orders/refund-request", func(w http.ResponseWriter, req *http.Request) {
			c.Check(json.NewDecoder(req.Body).Decode(&got), qt.IsNil)
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		})
	})
	req := orders.RefundPayload{
		OrderID: "42",
		Reason:  "Item arrived damaged",
		Items:   []orders.LineItem{{ProductID: "7", Quantity: 1, UnitPrice: decimal.NewFromInt(450)}},
		Total:   decimal.NewFromInt(450),
	}
	c.Assert(cl.RequestRefund(context.Background(), req), qt.IsNil)
	c.Assert(got.OrderID, qt.Equals, "42")
	c.Assert(got.Total.Equal(decimal.NewFromInt(450)), qt.IsTrue)
}

func TestOrderItems(t *testing.T) {
	c := qt.New(t)
	cl := newServer(c, func(r chi.Router) {
		r.Get("/orders/{id}/items", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data": []any{
					map[string]any{"product_id": 7, "productname": "Classic Tee", "quantity": 2, "price": "450.00", "size": "M", "color": "Black"},
				},
			})
		})
	})
	items, err := cl.OrderItems(context.Background(), "101")
	c.Assert(err, qt.IsNil)
	c.Assert(items, qt.HasLen, 1)
	c.Assert(items[0].ProductID, qt.Equals, stock.ProductID("7"))
	c.Assert(items[0].UnitPrice.String(), qt.Equals, "450")
}
