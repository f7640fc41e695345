package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-sync/internal/stock"
)

type Type string

const (
	TypeRegular Type = "regular"
	TypeCustom  Type = "custom" // made-to-order; ids live in their own namespace
)

type CancellationRequest struct {
	Status    RequestStatus `json:"status"`
	Reason    string        `json:"reason"`
	CreatedAt time.Time     `json:"created_at"`
}

type RefundRequest struct {
	Status     RequestStatus `json:"status"`
	Reason     string        `json:"reason"`
	ProofImage string        `json:"proof_image,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Open reports whether the refund request is still being handled.
func (r *RefundRequest) Open() bool {
	return r != nil && r.Status != RequestRejected && r.Status != RequestApproved
}

type LineItem struct {
	ProductID stock.ProductID `json:"product_id" validate:"required"`
	Name      string          `json:"productname"`
	Quantity  int             `json:"quantity" validate:"required,min=1"`
	UnitPrice decimal.Decimal `json:"price"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Order is the client's projection of a backend order. It is only changed
// after the backend accepted a request, or by Observe.
type Order struct {
	ID             string         `json:"id"`
	OrderNumber    string         `json:"order_number"`
	Type           Type           `json:"order_type"`
	Status         Status         `json:"status"`
	DeliveryStatus DeliveryStatus `json:"delivery_status,omitempty"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`

	Cancellation *CancellationRequest `json:"cancellation_request,omitempty"`
	Refund       *RefundRequest       `json:"refund_request,omitempty"`

	Items []LineItem `json:"items,omitempty"`
	// ItemsLoaded is set once Items holds the backend's item list, which
	// may legitimately be empty.
	ItemsLoaded bool `json:"-"`

	UserConfirmedAt *time.Time `json:"user_confirmed_at,omitempty"`
	Received        bool       `json:"received"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (o *Order) Custom() bool { return o.Type == TypeCustom }

func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.Items {
		total = total.Add(li.Subtotal())
	}
	return total
}

// ProductIDs lists the distinct products in the order's items, in item
// order.
func (o *Order) ProductIDs() []stock.ProductID {
	seen := make(map[stock.ProductID]bool, len(o.Items))
	var ids []stock.ProductID
	for _, li := range o.Items {
		if li.ProductID == "" || seen[li.ProductID] {
			continue
		}
		seen[li.ProductID] = true
		ids = append(ids, li.ProductID)
	}
	return ids
}

// CancellationPending reports a cancellation request awaiting an admin.
func (o *Order) CancellationPending() bool {
	return o.Cancellation != nil && o.Cancellation.Status == RequestPending
}

// Delivered reports whether the goods have arrived by either measure.
func (o *Order) Delivered() bool {
	return o.DeliveryStatus == DeliveryDelivered || o.Status == StatusDelivered
}

func (o *Order) clone() Order {
	c := *o
	if o.Cancellation != nil {
		cr := *o.Cancellation
		c.Cancellation = &cr
	}
	if o.Refund != nil {
		rr := *o.Refund
		c.Refund = &rr
	}
	if o.UserConfirmedAt != nil {
		t := *o.UserConfirmedAt
		c.UserConfirmedAt = &t
	}
	c.Items = append([]LineItem(nil), o.Items...)
	return c
}
