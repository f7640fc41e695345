// Package orders holds the client's projection of storefront orders and
// the rules for which requests may be made against them.
//
// Nothing here changes an order's status. Every operation asks the backend
// first and only then updates the projection; Observe folds in orders
// fetched later. Operations that moved stock on the backend refresh the
// stock cache afterwards.
package orders

import (
	"context"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/ariefcatur/go-storefront-sync/internal/apperr"
	"github.com/ariefcatur/go-storefront-sync/internal/metrics"
	"github.com/ariefcatur/go-storefront-sync/internal/stock"
)

var logger = loggo.GetLogger("storefront.orders")

// Policy covers the choices the backend leaves to the client.
type Policy struct {
	// AllowResubmitAfterDenial lets a customer file a new cancellation
	// request after an earlier one was denied, while the order is still
	// pending or confirmed.
	AllowResubmitAfterDenial bool
}

type Config struct {
	Backend Backend
	Stock   StockRefresher
	Clock   clock.Clock
	Metrics *metrics.Registry // optional
	Policy  Policy
}

func (c Config) Validate() error {
	if c.Backend == nil {
		return errors.NotValidf("nil Backend")
	}
	if c.Stock == nil {
		return errors.NotValidf("nil Stock")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

type Lifecycle struct {
	backend Backend
	stock   StockRefresher
	clock   clock.Clock
	metrics *metrics.Registry
	policy  Policy
}

func New(cfg Config) (*Lifecycle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Lifecycle{
		backend: cfg.Backend,
		stock:   cfg.Stock,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		policy:  cfg.Policy,
	}, nil
}

// CreateResult is a placed order. StockErr reports a failed stock refresh
// after the order was accepted; the order stands regardless.
type CreateResult struct {
	Order    Order
	StockErr error
}

// Create places an order and refreshes the products the backend reports
// it deducted stock for.
func (l *Lifecycle) Create(ctx context.Context, in Checkout) (res CreateResult, err error) {
	defer func() { l.observe("create", err) }()
	if err := in.Validate(); err != nil {
		return CreateResult{}, err
	}
	resp, err := l.backend.CreateOrder(ctx, in)
	if err != nil {
		return CreateResult{}, errors.Trace(err)
	}
	o := resp.Order
	if o.Status == "" {
		o.Status = StatusPending
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = PaymentPending
	}
	if o.Type == "" {
		o.Type = TypeRegular
	}
	logger.Debugf("order %s created, stock changed for %v", o.ID, resp.StockEvent.ProductIDs)
	return CreateResult{Order: o, StockErr: l.refreshStock(ctx, resp.StockEvent.ProductIDs, nil)}, nil
}

// ConfirmResult reports how the backend took a verification request.
type ConfirmResult struct {
	AwaitingVerification bool
	StockErr             error
}

// SubmitForVerification asks the backend to verify a pending regular
// order's payment. Custom orders are confirmed through design approval
// instead.
func (l *Lifecycle) SubmitForVerification(ctx context.Context, o *Order) (res ConfirmResult, err error) {
	defer func() { l.observe("confirm", err) }()
	switch {
	case o.Custom():
		return ConfirmResult{}, apperr.Validationf("custom order %s submitted for verification", o.ID)
	case o.UserConfirmedAt != nil:
		return ConfirmResult{}, apperr.Conflictf("verification request for order %s", o.ID)
	case o.Status != StatusPending:
		return ConfirmResult{}, apperr.Validationf("verification of %s order %s", o.Status, o.ID)
	}
	resp, err := l.backend.ConfirmOrder(ctx, o.ID)
	if err != nil {
		return ConfirmResult{}, errors.Trace(err)
	}
	now := l.clock.Now()
	o.UserConfirmedAt = &now

	res.AwaitingVerification = resp.AwaitingVerification
	if !resp.StockAlreadyDeducted {
		var ids []stock.ProductID
		if resp.StockEvent != nil {
			ids = resp.StockEvent.ProductIDs
		}
		res.StockErr = l.refreshStock(ctx, ids, o)
	}
	return res, nil
}

// RequestCancellation files a cancellation request. The reason is checked
// before anything is sent.
func (l *Lifecycle) RequestCancellation(ctx context.Context, o *Order, reason string) (err error) {
	defer func() { l.observe("cancel", err) }()
	if err := CheckReason(reason); err != nil {
		return err
	}
	if !o.Status.Cancellable() {
		return apperr.Validationf("cancellation of %s order %s", o.Status, o.ID)
	}
	switch {
	case o.CancellationPending():
		return apperr.Conflict("A cancellation request for this order is already pending")
	case o.Cancellation == nil:
	case o.Cancellation.Status == RequestDenied && !l.policy.AllowResubmitAfterDenial:
		return apperr.Conflictf("denied cancellation request for order %s", o.ID)
	case o.Cancellation.Status == RequestApproved:
		return apperr.Conflictf("approved cancellation request for order %s", o.ID)
	}

	reason = strings.TrimSpace(reason)
	req := CancellationPayload{Reason: reason}
	if o.Custom() {
		req.CustomOrderID = o.ID
	} else {
		req.OrderID = o.ID
	}
	if err := l.backend.RequestCancellation(ctx, req); err != nil {
		return errors.Trace(err)
	}
	o.Cancellation = &CancellationRequest{Status: RequestPending, Reason: reason, CreatedAt: l.clock.Now()}
	return nil
}

// MarkReceived records that the customer has the goods.
func (l *Lifecycle) MarkReceived(ctx context.Context, o *Order) (err error) {
	defer func() { l.observe("mark_received", err) }()
	if !o.Delivered() {
		return apperr.Validationf("receipt of undelivered order %s", o.ID)
	}
	if o.Received {
		return apperr.Conflictf("receipt of order %s", o.ID)
	}
	if err := l.backend.MarkReceived(ctx, o.ID); err != nil {
		return errors.Trace(err)
	}
	o.Received = true
	return nil
}

// RequestRefund files a refund request with a snapshot of the order's
// items, loading them first if needed. An order holds at most one refund
// request that was not rejected.
func (l *Lifecycle) RequestRefund(ctx context.Context, o *Order, in RefundInput) (err error) {
	defer func() { l.observe("refund", err) }()
	if err := checkStruct(in); err != nil {
		return err
	}
	if !o.Status.Refundable() {
		return apperr.Validationf("refund of %s order %s", o.Status, o.ID)
	}
	if o.Refund.Open() || (o.Refund != nil && o.Refund.Status == RequestApproved) {
		return apperr.Conflictf("refund request for order %s", o.ID)
	}
	if !o.ItemsLoaded {
		if err := l.loadItems(ctx, o); err != nil {
			return errors.Annotate(err, "load items for refund")
		}
	}

	req := RefundPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Reason:      strings.TrimSpace(in.Reason),
		Description: strings.TrimSpace(in.Description),
		ProofImage:  in.ProofImage,
		Items:       append([]LineItem(nil), o.Items...),
		Total:       o.Total(),
	}
	if err := l.backend.RequestRefund(ctx, req); err != nil {
		return errors.Trace(err)
	}
	o.Refund = &RefundRequest{
		Status:     RequestPending,
		Reason:     req.Reason,
		ProofImage: req.ProofImage,
		CreatedAt:  l.clock.Now(),
	}
	return nil
}

// LoadItems fetches the order's line items.
func (l *Lifecycle) LoadItems(ctx context.Context, o *Order) (err error) {
	defer func() { l.observe("load_items", err) }()
	return l.loadItems(ctx, o)
}

func (l *Lifecycle) loadItems(ctx context.Context, o *Order) error {
	items, err := l.backend.OrderItems(ctx, o.ID)
	if err != nil {
		return errors.Trace(err)
	}
	o.Items = items
	o.ItemsLoaded = true
	return nil
}

// ObserveResult reports what Observe changed.
type ObserveResult struct {
	StatusChanged bool
	StockErr      error
}

// Observe folds a freshly fetched copy of an order into the projection.
// The fetch is rejected, and the projection left alone, if it would move
// the order or one of its requests backwards or out of a terminal state.
// An order that became cancelled had its stock restored by the backend, so
// its products are refreshed.
func (l *Lifecycle) Observe(ctx context.Context, cur *Order, fetched Order) (ObserveResult, error) {
	if err := checkObserved(cur, &fetched); err != nil {
		l.observe("observe", err)
		return ObserveResult{}, err
	}
	prev := cur.Status
	next := fetched.clone()
	if !next.ItemsLoaded {
		next.Items, next.ItemsLoaded = cur.Items, cur.ItemsLoaded
	}
	if next.UserConfirmedAt == nil {
		next.UserConfirmedAt = cur.UserConfirmedAt
	}
	if next.Cancellation == nil {
		next.Cancellation = cur.Cancellation
	}
	if next.Refund == nil {
		next.Refund = cur.Refund
	}
	next.Received = next.Received || cur.Received
	*cur = next
	l.observe("observe", nil)

	res := ObserveResult{StatusChanged: prev != cur.Status}
	if res.StatusChanged {
		logger.Debugf("order %s moved %s -> %s", cur.ID, prev, cur.Status)
	}
	if res.StatusChanged && cur.Status == StatusCancelled {
		res.StockErr = l.refreshStock(ctx, nil, cur)
	}
	return res, nil
}

func checkObserved(cur, fetched *Order) error {
	if fetched.ID != cur.ID {
		return errors.NotValidf("order %s observed as %s", cur.ID, fetched.ID)
	}
	if !fetched.Status.Valid() {
		return errors.NotValidf("order %s status %q", cur.ID, fetched.Status)
	}
	if !Reachable(cur.Status, fetched.Status) {
		return errors.NotValidf("order %s moving from %s to %s", cur.ID, cur.Status, fetched.Status)
	}
	if fetched.DeliveryStatus != cur.DeliveryStatus && !ReachableDelivery(cur.DeliveryStatus, fetched.DeliveryStatus) {
		return errors.NotValidf("order %s delivery moving from %q to %q", cur.ID, cur.DeliveryStatus, fetched.DeliveryStatus)
	}
	if a, b := cur.Cancellation, fetched.Cancellation; a != nil && b != nil && a.CreatedAt.Equal(b.CreatedAt) &&
		a.Status != b.Status && !reachable(validNextCancellation, a.Status, b.Status) {
		return errors.NotValidf("order %s cancellation request moving from %s to %s", cur.ID, a.Status, b.Status)
	}
	if a, b := cur.Refund, fetched.Refund; a != nil && b != nil && a.CreatedAt.Equal(b.CreatedAt) &&
		a.Status != b.Status && !reachable(validNextRefund, a.Status, b.Status) {
		return errors.NotValidf("order %s refund request moving from %s to %s", cur.ID, a.Status, b.Status)
	}
	return nil
}

// refreshStock refreshes ids when the backend named any, else the products
// of o when its items are known, else everything.
func (l *Lifecycle) refreshStock(ctx context.Context, ids []stock.ProductID, o *Order) error {
	if len(ids) == 0 && o != nil && o.ItemsLoaded {
		ids = o.ProductIDs()
	}
	var err error
	if len(ids) > 0 {
		err = l.stock.RefreshMany(ctx, ids...)
	} else {
		err = l.stock.RefreshAll(ctx)
	}
	if err != nil {
		logger.Warningf("stock refresh after order change: %v", err)
		return errors.Annotate(err, "refresh stock")
	}
	return nil
}

func (l *Lifecycle) observe(op string, err error) {
	l.metrics.ObserveOrderRequest(op, outcome(err))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperr.IsValidation(err):
		return "invalid"
	case apperr.IsConflict(err):
		return "conflict"
	case apperr.IsAuth(err):
		return "auth"
	default:
		return "error"
	}
}
