package orders

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-sync/internal/stock"
)

// Backend is the order half of the storefront REST API. Implementations
// return apperr kinds: validation and conflict for rejected requests, auth
// for a bad session, and *apperr.FetchError for everything else.
type Backend interface {
	CreateOrder(ctx context.Context, in Checkout) (CreateResponse, error)
	ConfirmOrder(ctx context.Context, orderID string) (ConfirmResponse, error)
	MarkReceived(ctx context.Context, orderID string) error
	RequestCancellation(ctx context.Context, req CancellationPayload) error
	RequestRefund(ctx context.Context, req RefundPayload) error
	OrderItems(ctx context.Context, orderID string) ([]LineItem, error)
}

// StockRefresher is the part of the stock cache the lifecycle drives.
type StockRefresher interface {
	RefreshAll(ctx context.Context) error
	RefreshMany(ctx context.Context, ids ...stock.ProductID) error
}

type Address struct {
	Street     string `json:"street_address" validate:"required"`
	City       string `json:"city" validate:"required"`
	Province   string `json:"province" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
}

// Line renders the address the way the backend stores it.
func (a Address) Line() string {
	return a.Street + ", " + a.City + ", " + a.Province + " " + a.PostalCode
}

// Attachment is an uploaded file carried in a multipart request.
type Attachment struct {
	Filename    string `json:"filename" validate:"required"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-" validate:"required,min=1"`
}

// Checkout is the cart and customer details submitted to create an order.
type Checkout struct {
	CustomerName     string     `json:"customer_name" validate:"required"`
	CustomerEmail    string     `json:"customer_email" validate:"required,email"`
	CustomerPhone    string     `json:"contact_phone" validate:"required"`
	Address          Address    `json:"address"`
	PaymentReference string     `json:"payment_reference" validate:"required"`
	PaymentProof     Attachment `json:"payment_proof"`
	Notes            string     `json:"notes,omitempty"`
	Items            []LineItem `json:"items" validate:"required,min=1,dive"`
}

// Validate reports every missing or malformed field at once.
func (c Checkout) Validate() error {
	return checkStruct(c)
}

// StockUpdateEvent names the products whose stock the backend changed.
type StockUpdateEvent struct {
	ProductIDs []stock.ProductID `json:"productIds"`
}

type CreateResponse struct {
	Order      Order            `json:"order"`
	StockEvent StockUpdateEvent `json:"stockUpdateEvent"`
}

type ConfirmResponse struct {
	StockAlreadyDeducted bool              `json:"stockAlreadyDeducted"`
	AwaitingVerification bool              `json:"awaitingVerification"`
	StockEvent           *StockUpdateEvent `json:"stockUpdateEvent,omitempty"`
}

// CancellationPayload identifies a regular order by OrderID and a custom
// order by CustomOrderID; exactly one is set.
type CancellationPayload struct {
	OrderID       string `json:"order_id,omitempty"`
	CustomOrderID string `json:"customOrderId,omitempty"`
	Reason        string `json:"reason"`
}

// RefundInput is what the customer fills in for a refund.
type RefundInput struct {
	Reason      string `json:"reason" validate:"reason"`
	Description string `json:"description"`
	ProofImage  string `json:"proof_image"` // reference to an uploaded image
}

// RefundPayload is RefundInput plus a snapshot of the order's items.
type RefundPayload struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Reason      string          `json:"reason"`
	Description string          `json:"description,omitempty"`
	ProofImage  string          `json:"proof_image,omitempty"`
	Items       []LineItem      `json:"items"`
	Total       decimal.Decimal `json:"total_amount"`
}
