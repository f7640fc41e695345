package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/juju/errors"

	"github.com/ariefcatur/go-storefront-sync/internal/orders"
	"github.com/ariefcatur/go-storefront-sync/internal/stock"
)

const (
	ordersPath        = "/orders"
	cancellationsPath = "/orders/cancellation-requests"
	refundPath        = "/orders/refund-request"
)

func orderPath(id, action string) string {
	p := ordersPath + "/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

// wireOrder tells an absent item list apart from an empty one. Regular
// orders carry numeric ids and custom orders string ids.
type wireOrder struct {
	orders.Order
	ID    flexID             `json:"id"`
	Items *[]orders.LineItem `json:"items"`
}

func (w wireOrder) order() orders.Order {
	o := w.Order
	o.ID = string(w.ID)
	if w.Items != nil {
		o.Items = *w.Items
		o.ItemsLoaded = true
	}
	return o
}

type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	var p stock.ProductID
	if err := p.UnmarshalJSON(b); err != nil {
		return err
	}
	*id = flexID(p)
	return nil
}

// CreateOrder posts the checkout as a multipart form with the payment
// proof as a file part.
func (c *Client) CreateOrder(ctx context.Context, in orders.Checkout) (orders.CreateResponse, error) {
	body, contentType, err := checkoutForm(in)
	if err != nil {
		return orders.CreateResponse{}, errors.Annotate(err, "encode checkout")
	}
	data, err := c.do(ctx, http.MethodPost, ordersPath, body, contentType)
	if err != nil {
		return orders.CreateResponse{}, err
	}

	var resp struct {
		Data struct {
			wireOrder
			StockEvent *orders.StockUpdateEvent `json:"stockUpdateEvent"`
		} `json:"data"`
		StockEvent *orders.StockUpdateEvent `json:"stockUpdateEvent"`
	}
	if err := decode("POST "+ordersPath, data, &resp); err != nil {
		return orders.CreateResponse{}, err
	}
	out := orders.CreateResponse{Order: resp.Data.order()}
	switch {
	case resp.StockEvent != nil:
		out.StockEvent = *resp.StockEvent
	case resp.Data.StockEvent != nil:
		out.StockEvent = *resp.Data.StockEvent
	}
	return out, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func checkoutForm(in orders.Checkout) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	items, err := json.Marshal(in.Items)
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	fields := [][2]string{
		{"customer_name", in.CustomerName},
		{"customer_email", in.CustomerEmail},
		{"contact_phone", in.CustomerPhone},
		{"shipping_address", in.Address.Line()},
		{"street_address", in.Address.Street},
		{"city", in.Address.City},
		{"province", in.Address.Province},
		{"postal_code", in.Address.PostalCode},
		{"payment_reference", in.PaymentReference},
		{"notes", in.Notes},
		{"items", string(items)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", errors.Trace(err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="payment_proof"; filename="%s"`, quoteEscaper.Replace(in.PaymentProof.Filename)))
	ct := in.PaymentProof.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	if _, err := part.Write(in.PaymentProof.Data); err != nil {
		return nil, "", errors.Trace(err)
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Trace(err)
	}
	return &buf, w.FormDataContentType(), nil
}

// ConfirmOrder submits a regular order for payment verification. The
// backend sends the stock fields either at the top level or under data.
func (c *Client) ConfirmOrder(ctx context.Context, orderID string) (orders.ConfirmResponse, error) {
	path := orderPath(orderID, "confirm")
	data, err := c.postJSON(ctx, path, nil)
	if err != nil {
		return orders.ConfirmResponse{}, err
	}
	var out orders.ConfirmResponse
	if err := decode("POST "+path, data, &out); err != nil {
		return orders.ConfirmResponse{}, err
	}
	var env envelope
	if json.Unmarshal(data, &env) == nil && len(env.Data) > 0 && env.Data[0] == '{' {
		if err := decode("POST "+path, env.Data, &out); err != nil {
			return orders.ConfirmResponse{}, err
		}
	}
	return out, nil
}

func (c *Client) MarkReceived(ctx context.Context, orderID string) error {
	_, err := c.postJSON(ctx, orderPath(orderID, "mark-received"), nil)
	return err
}

func (c *Client) RequestCancellation(ctx context.Context, req orders.CancellationPayload) error {
	_, err := c.postJSON(ctx, cancellationsPath, req)
	return err
}

func (c *Client) RequestRefund(ctx context.Context, req orders.RefundPayload) error {
	_, err := c.postJSON(ctx, refundPath, req)
	return err
}

func (c *Client) OrderItems(ctx context.Context, orderID string) ([]orders.LineItem, error) {
	path := orderPath(orderID, "items")
	data, err := c.getJSON(ctx, path)
	if err != nil {
		return nil, err
	}
	items := []orders.LineItem{}
	if err := unwrapList("GET "+path, data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Order fetches one order, for reconciling with orders.Lifecycle.Observe.
func (c *Client) Order(ctx context.Context, orderID string) (orders.Order, error) {
	path := orderPath(orderID, "")
	data, err := c.getJSON(ctx, path)
	if err != nil {
		return orders.Order{}, err
	}
	var env struct {
		Data *wireOrder `json:"data"`
	}
	if err := decode("GET "+path, data, &env); err != nil {
		return orders.Order{}, err
	}
	if env.Data == nil {
		var w wireOrder
		if err := decode("GET "+path, data, &w); err != nil {
			return orders.Order{}, err
		}
		return w.order(), nil
	}
	return env.Data.order(), nil
}
