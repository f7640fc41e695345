package api

import (
	"context"

	"github.com/ariefcatur/go-storefront-sync/internal/stock"
)

const productsPath = "/products"

// ListStock fetches the full catalog with each product's stock breakdown.
func (c *Client) ListStock(ctx context.Context) ([]stock.Record, error) {
	body, err := c.getJSON(ctx, productsPath)
	if err != nil {
		return nil, err
	}
	var recs []stock.Record
	if err := unwrapList("GET "+productsPath, body, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
