// Package inventory summarises the stock cache for operators.
package inventory

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/juju/errors"

	"github.com/ariefcatur/go-storefront-sync/internal/stock"
)

// Report is a point-in-time summary of a cache.
type Report struct {
	GeneratedAt   time.Time      `json:"generatedAt"`
	LastRefreshAt *time.Time     `json:"lastRefreshAt,omitempty"`
	Stats         stock.Stats    `json:"stats"`
	Low           []stock.Record `json:"lowStock"`
	Out           []stock.Record `json:"outOfStock"`
}

// Source is the part of a cache a report reads.
type Source interface {
	Snapshot() stock.Snapshot
	Stats() stock.Stats
	LowStock() []stock.Record
	OutOfStock() []stock.Record
}

func Build(src Source, now time.Time) Report {
	r := Report{
		GeneratedAt: now.UTC(),
		Stats:       src.Stats(),
		Low:         src.LowStock(),
		Out:         src.OutOfStock(),
	}
	if at := src.Snapshot().LastRefreshAt; !at.IsZero() {
		at = at.UTC()
		r.LastRefreshAt = &at
	}
	return r
}

// Fresh reports whether the last full refresh is no older than maxAge.
func (r Report) Fresh(maxAge time.Duration) bool {
	return r.LastRefreshAt != nil && r.GeneratedAt.Sub(*r.LastRefreshAt) <= maxAge
}

var statusOrder = []stock.Status{
	stock.StatusInStock,
	stock.StatusLowStock,
	stock.StatusCriticalStock,
	stock.StatusOutOfStock,
}

// WriteText renders the report as aligned columns.
func (r Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	refreshed := "never"
	if r.LastRefreshAt != nil {
		refreshed = r.LastRefreshAt.Format(time.RFC3339)
	}
	fmt.Fprintf(tw, "products\t%d\n", r.Stats.TotalProducts)
	fmt.Fprintf(tw, "available\t%d\n", r.Stats.TotalAvailableStock)
	fmt.Fprintf(tw, "reserved\t%d\n", r.Stats.TotalReservedStock)
	fmt.Fprintf(tw, "last refresh\t%s\n", refreshed)
	for _, s := range statusOrder {
		fmt.Fprintf(tw, "%s\t%d\n", s, r.Stats.CountByStatus[s])
	}
	for _, s := range extraStatuses(r.Stats.CountByStatus) {
		fmt.Fprintf(tw, "%s\t%d\n", s, r.Stats.CountByStatus[s])
	}
	writeSection(tw, "low stock", r.Low)
	writeSection(tw, "out of stock", r.Out)
	return errors.Trace(tw.Flush())
}

func writeSection(w io.Writer, title string, records []stock.Record) {
	fmt.Fprintf(w, "\n%s (%d)\n", title, len(records))
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", rec.ProductID, rec.DisplayName, rec.AvailableStock, rec.Status)
	}
}

// extraStatuses lists statuses the backend sent that are not in
// statusOrder, sorted.
func extraStatuses(counts map[stock.Status]int) []stock.Status {
	known := make(map[stock.Status]bool, len(statusOrder))
	for _, s := range statusOrder {
		known[s] = true
	}
	var out []stock.Status
	for s := range counts {
		if !known[s] {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
