package orders

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled" // cancellation request approved
	StatusDenied     Status = "denied"    // cancellation request denied
)

// Moves into cancelled and denied are made by an admin deciding a
// cancellation request; the client only observes them.
var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCancelled: true, StatusDenied: true},
	StatusConfirmed:  {StatusProcessing: true, StatusCancelled: true, StatusDenied: true},
	StatusProcessing: {StatusShipped: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
	StatusDenied:     {},
}

func canTransition(from, to Status) bool {
	return validNext[from][to]
}

// Reachable reports whether to follows from in zero or more steps. A
// fetched order may have moved several steps since it was last seen.
func Reachable(from, to Status) bool {
	return reachable(validNext, from, to)
}

func (s Status) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

// Cancellable reports whether a cancellation request may be filed.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Refundable reports whether a refund request may be filed.
func (s Status) Refundable() bool {
	return s == StatusCancelled || s == StatusDenied || s == StatusDelivered
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// DeliveryStatus is tracked apart from Status: a delivery can be delayed
// without the commercial status changing. Empty means not yet tracked.
type DeliveryStatus string

const (
	DeliveryNone      DeliveryStatus = ""
	DeliveryConfirmed DeliveryStatus = "confirmed"
	DeliveryInTransit DeliveryStatus = "in_transit"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryDelayed   DeliveryStatus = "delayed"
)

// Leaving delayed is an admin reschedule.
var validNextDelivery = map[DeliveryStatus]map[DeliveryStatus]bool{
	DeliveryNone:      {DeliveryConfirmed: true},
	DeliveryConfirmed: {DeliveryInTransit: true, DeliveryDelayed: true},
	DeliveryInTransit: {DeliveryDelivered: true, DeliveryDelayed: true},
	DeliveryDelayed:   {DeliveryConfirmed: true, DeliveryInTransit: true},
	DeliveryDelivered: {},
}

func canTransitionDelivery(from, to DeliveryStatus) bool {
	return validNextDelivery[from][to]
}

func ReachableDelivery(from, to DeliveryStatus) bool {
	return reachable(validNextDelivery, from, to)
}

// Tracked reports whether s carries a delivery sub-state at all.
func (s Status) Tracked() bool {
	return s == StatusConfirmed || s == StatusProcessing || s == StatusShipped || s == StatusDelivered
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentVerified PaymentStatus = "verified"
)

type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestProcessing RequestStatus = "processing" // refunds only
	RequestApproved   RequestStatus = "approved"
	RequestDenied     RequestStatus = "denied"   // cancellations
	RequestRejected   RequestStatus = "rejected" // refunds
)

var validNextCancellation = map[RequestStatus]map[RequestStatus]bool{
	RequestPending:  {RequestApproved: true, RequestDenied: true},
	RequestApproved: {},
	RequestDenied:   {},
}

var validNextRefund = map[RequestStatus]map[RequestStatus]bool{
	RequestPending:    {RequestProcessing: true, RequestApproved: true, RequestRejected: true},
	RequestProcessing: {RequestApproved: true, RequestRejected: true},
	RequestApproved:   {},
	RequestRejected:   {},
}

func canTransitionCancellation(from, to RequestStatus) bool {
	return validNextCancellation[from][to]
}

func canTransitionRefund(from, to RequestStatus) bool {
	return validNextRefund[from][to]
}

func reachable[S comparable](table map[S]map[S]bool, from, to S) bool {
	if from == to {
		_, ok := table[from]
		return ok
	}
	seen := map[S]bool{from: true}
	queue := []S{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range table[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
