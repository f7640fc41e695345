// Package stocktest provides an in-memory backend catalog for tests.
package stocktest

import (
	"context"
	"sort"
	"sync"

	"github.com/ariefcatur/go-storefront-sync/internal/stock"
)

// Repo is a stock.Repository over a mutable catalog. It counts calls and
// can hold them at a gate or fail them.
type Repo struct {
	mu      sync.Mutex
	records map[stock.ProductID]stock.Record
	calls   int
	err     error
	gate    chan struct{}
	Started chan struct{} // receives once per ListStock call when non-nil
}

func NewRepo(records ...stock.Record) *Repo {
	r := &Repo{records: make(map[stock.ProductID]stock.Record)}
	for _, rec := range records {
		r.records[rec.ProductID] = rec
	}
	return r
}

func (r *Repo) ListStock(ctx context.Context) ([]stock.Record, error) {
	r.mu.Lock()
	r.calls++
	gate, started := r.gate, r.Started
	r.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]stock.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// Put replaces one product in the catalog.
func (r *Repo) Put(rec stock.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ProductID] = rec
}

// Remove drops a product from the catalog.
func (r *Repo) Remove(id stock.ProductID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
}

// Deduct takes qty off a product's available stock.
func (r *Repo) Deduct(id stock.ProductID, qty int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[id]
	rec.AvailableStock -= qty
	r.records[id] = rec
}

func (r *Repo) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Hold makes ListStock block until the returned release func is called.
func (r *Repo) Hold() (release func()) {
	gate := make(chan struct{})
	r.mu.Lock()
	r.gate = gate
	r.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.gate = nil
			r.mu.Unlock()
			close(gate)
		})
	}
}

func (r *Repo) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
