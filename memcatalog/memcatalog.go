// Package memcatalog provides an in-memory replicore.Catalog for tests and
// the demo binary.
package memcatalog

import (
	"sync"

	"github.com/shardkv/replicore"
)

var _ replicore.Catalog = (*Catalog)(nil)

// Catalog is a map-backed replicore.Catalog. Grounded on litefs's Store
// map-plus-mutex bookkeeping style (store.go's dbsByID/dbsByName).
type Catalog struct {
	mu    sync.Mutex
	metas map[int]replicore.StoreMeta
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{metas: make(map[int]replicore.StoreMeta)}
}

func (c *Catalog) GetStoreMeta(id int) (replicore.StoreMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, ok := c.metas[id]
	if !ok {
		return replicore.StoreMeta{}, replicore.ErrNotFound
	}
	return meta.Clone(), nil
}

func (c *Catalog) SetStoreMeta(meta replicore.StoreMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metas[meta.ID] = meta.Clone()
	return nil
}
