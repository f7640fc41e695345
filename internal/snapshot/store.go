// Package snapshot keeps a local copy of the stock cache on disk so a new
// session can show stock before its first refresh completes.
package snapshot

import (
	"encoding/json"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/ariefcatur/go-storefront-sync/internal/stock"
)

var logger = loggo.GetLogger("storefront.snapshot")

const keyPrefix = "stock/"

// keyEnd sorts right after every key with keyPrefix.
var keyEnd = []byte("stock0")

type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, errors.Annotatef(err, "open snapshot %s", dir)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return errors.Trace(s.db.Close()) }

func key(id stock.ProductID) []byte { return []byte(keyPrefix + string(id)) }

// Save writes records in one batch, replacing whatever was stored for the
// same products.
func (s *Store) Save(records []stock.Record) error {
	if len(records) == 0 {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, r := range records {
		if r.ProductID == "" {
			continue
		}
		v, err := json.Marshal(r)
		if err != nil {
			return errors.Annotatef(err, "encode %s", r.ProductID)
		}
		if err := b.Set(key(r.ProductID), v, nil); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Annotate(b.Commit(pebble.NoSync), "commit snapshot")
}

// Load returns every stored record ordered by product id. Entries that no
// longer decode are skipped.
func (s *Store) Load() ([]stock.Record, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: []byte(keyPrefix), UpperBound: keyEnd})
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer it.Close()
	var out []stock.Record
	for it.First(); it.Valid(); it.Next() {
		var r stock.Record
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			logger.Warningf("skipping snapshot entry %q: %v", it.Key(), err)
			continue
		}
		out = append(out, r)
	}
	return out, errors.Trace(it.Error())
}

// Clear drops every stored record.
func (s *Store) Clear() error {
	return errors.Trace(s.db.DeleteRange([]byte(keyPrefix), keyEnd, pebble.Sync))
}

// Follow saves the cache's records after each change until remove is
// called. A change to unknown products saves the whole cache.
func (s *Store) Follow(c *stock.Cache) (remove func()) {
	return c.OnChange(func(changed []stock.ProductID) {
		var records []stock.Record
		if changed == nil {
			for _, r := range c.Snapshot().Records {
				records = append(records, r)
			}
		} else {
			for _, id := range changed {
				if r, ok := c.Get(id); ok {
					records = append(records, r)
				}
			}
		}
		if err := s.Save(records); err != nil {
			logger.Warningf("saving snapshot: %v", err)
		}
	})
}

// Warm seeds c from the stored records and reports how many were loaded.
func (s *Store) Warm(c *stock.Cache) (int, error) {
	records, err := s.Load()
	if err != nil {
		return 0, errors.Annotate(err, "load snapshot")
	}
	c.Seed(records)
	return len(records), nil
}
