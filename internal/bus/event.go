package bus

import (
	"sort"
	"time"
)

// Channel keys, one per granularity. A subscriber can tell from the key
// alone whether a full or a partial refresh is enough.
const (
	KeyAll  = "stock_updated"
	KeyOne  = "product_stock_updated"
	KeyMany = "multiple_products_updated"
)

// IsKey reports whether key is one of the stock channel keys.
func IsKey(key string) bool {
	switch key {
	case KeyAll, KeyOne, KeyMany:
		return true
	}
	return false
}

// Event says that stock changed for ProductIDs, or for every product when
// All is set.
type Event struct {
	All        bool
	ProductIDs []string
}

func AllProducts() Event { return Event{All: true} }

// Products builds an event for ids, dropping duplicates and empty ids. The
// result is sorted so equal sets produce equal events.
func Products(ids ...string) Event {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return Event{ProductIDs: out}
}

// Key returns the channel key the event is written under.
func (e Event) Key() string {
	switch {
	case e.All:
		return KeyAll
	case len(e.ProductIDs) == 1:
		return KeyOne
	default:
		return KeyMany
	}
}

// Empty reports whether the event names no products at all.
func (e Event) Empty() bool { return !e.All && len(e.ProductIDs) == 0 }

// Envelope is what travels over the shared channel.
type Envelope struct {
	EventID    string    `json:"event_id"`
	Timestamp  time.Time `json:"timestamp"`
	Origin     string    `json:"origin_token"`
	All        bool      `json:"all,omitempty"`
	ProductIDs []string  `json:"product_ids,omitempty"`
}

func (e Envelope) Event() Event {
	return Event{All: e.All, ProductIDs: e.ProductIDs}
}
