package stock

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// ProductID is the backend's product identifier. The backend may send it as
// a JSON number or string; both decode to the same value.
type ProductID string

func (id *ProductID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ProductID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ProductID(n.String())
	return nil
}

func IDs(ids ...string) []ProductID {
	out := make([]ProductID, len(ids))
	for i, id := range ids {
		out[i] = ProductID(id)
	}
	return out
}

func toStrings(ids []ProductID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

type Status string

const (
	StatusInStock       Status = "in_stock"
	StatusLowStock      Status = "low_stock"
	StatusCriticalStock Status = "critical_stock"
	StatusOutOfStock    Status = "out_of_stock"
)

type ColorStock struct {
	Color string `json:"color"`
	Stock int    `json:"stock"`
}

type SizeVariant struct {
	Size   string       `json:"size"`
	Colors []ColorStock `json:"colorStocks"`
}

// Record is one product's stock as last reported by the backend. Records
// are only ever replaced whole.
type Record struct {
	ProductID      ProductID     `json:"product_id"`
	DisplayName    string        `json:"productname"`
	TotalStock     int           `json:"total_stock"`
	AvailableStock int           `json:"total_available_stock"`
	ReservedStock  int           `json:"total_reserved_stock"`
	Status         Status        `json:"stock_status"`
	Variants       []SizeVariant `json:"sizeColorVariants"`
	LastUpdated    time.Time     `json:"last_stock_update"`
}

// IsLow reports low or critical stock.
func (r Record) IsLow() bool {
	return r.Status == StatusLowStock || r.Status == StatusCriticalStock
}

func (r Record) clone() Record {
	if r.Variants == nil {
		return r
	}
	vs := make([]SizeVariant, len(r.Variants))
	for i, v := range r.Variants {
		vs[i] = SizeVariant{Size: v.Size, Colors: append([]ColorStock(nil), v.Colors...)}
	}
	r.Variants = vs
	return r
}

// Repository fetches the authoritative stock list. The backend only offers
// the full catalog, so partial refreshes also call ListStock.
type Repository interface {
	ListStock(ctx context.Context) ([]Record, error)
}

// index keys records by id. Records without an id are dropped, and an
// empty status is read as in_stock. A later duplicate wins.
func index(records []Record) map[ProductID]Record {
	out := make(map[ProductID]Record, len(records))
	for _, r := range records {
		if r.ProductID == "" {
			continue
		}
		if r.Status == "" {
			r.Status = StatusInStock
		}
		out[r.ProductID] = r.clone()
	}
	return out
}
