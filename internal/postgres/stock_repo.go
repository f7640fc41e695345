package postgres

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"

	"github.com/ariefcatur/go-storefront-sync/internal/stock"
)

const (
	defaultSize  = "One Size"
	defaultColor = "Default"
)

const listStockSQL = `
SELECT product_id::text            AS product_id,
       COALESCE(productname, '')   AS productname,
       COALESCE(total_stock, 0)    AS total_stock,
       COALESCE(total_available_stock, total_stock, 0) AS total_available_stock,
       COALESCE(total_reserved_stock, 0)  AS total_reserved_stock,
       COALESCE(stock_status, '')  AS stock_status,
       COALESCE(sizes, '')         AS sizes,
       COALESCE(productcolor, '')  AS productcolor,
       last_stock_update
FROM products
ORDER BY id DESC`

// Querier is satisfied by *pgxpool.Pool and *pgx.Conn.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ Querier = (*pgxpool.Pool)(nil)

// StockRepo reads stock records straight from the products table. It
// satisfies stock.Repository.
type StockRepo struct {
	DB Querier
}

type productRow struct {
	ProductID       string     `db:"product_id"`
	ProductName     string     `db:"productname"`
	TotalStock      int        `db:"total_stock"`
	AvailableStock  int        `db:"total_available_stock"`
	ReservedStock   int        `db:"total_reserved_stock"`
	StockStatus     string     `db:"stock_status"`
	Sizes           string     `db:"sizes"`
	ProductColor    string     `db:"productcolor"`
	LastStockUpdate *time.Time `db:"last_stock_update"`
}

func (r *StockRepo) ListStock(ctx context.Context) ([]stock.Record, error) {
	rows, err := r.DB.Query(ctx, listStockSQL)
	if err != nil {
		return nil, errors.Annotate(err, "query products")
	}
	products, err := pgx.CollectRows(rows, pgx.RowToStructByName[productRow])
	if err != nil {
		return nil, errors.Annotate(err, "scan products")
	}
	out := make([]stock.Record, 0, len(products))
	for _, p := range products {
		out = append(out, p.record())
	}
	return out, nil
}

func (p productRow) record() stock.Record {
	r := stock.Record{
		ProductID:      stock.ProductID(p.ProductID),
		DisplayName:    p.ProductName,
		TotalStock:     p.TotalStock,
		AvailableStock: p.AvailableStock,
		ReservedStock:  p.ReservedStock,
		Status:         stock.Status(p.StockStatus),
		Variants:       variants(p.Sizes, p.ProductColor, p.TotalStock),
	}
	if p.LastStockUpdate != nil {
		r.LastUpdated = p.LastStockUpdate.UTC()
	}
	return r
}

// variants spreads total evenly over every size and colour pair, rounding
// down. Without both lists, or when either fails to parse, the whole total
// goes to a single "One Size" variant.
func variants(sizes, colors string, total int) []stock.SizeVariant {
	fallback := []stock.SizeVariant{{
		Size:   defaultSize,
		Colors: []stock.ColorStock{{Color: orDefault(colors), Stock: total}},
	}}
	if sizes == "" || colors == "" {
		return fallback
	}
	ss, err := splitList(sizes)
	if err != nil {
		return fallback
	}
	cs, err := splitList(colors)
	if err != nil {
		return fallback
	}
	if len(ss) == 0 || len(cs) == 0 {
		return fallback
	}
	each := total / (len(ss) * len(cs))
	out := make([]stock.SizeVariant, 0, len(ss))
	for _, s := range ss {
		v := stock.SizeVariant{Size: s, Colors: make([]stock.ColorStock, 0, len(cs))}
		for _, c := range cs {
			v.Colors = append(v.Colors, stock.ColorStock{Color: c, Stock: each})
		}
		out = append(out, v)
	}
	return out
}

// splitList reads a JSON array or a comma separated list.
func splitList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var out []string
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, errors.Annotatef(err, "parse list %q", s)
		}
		return out, nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out, nil
}

func orDefault(color string) string {
	if color == "" {
		return defaultColor
	}
	return color
}
