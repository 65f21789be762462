package catalog

import (
	"context"
	"sync"

	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

// MemoryCatalog holds stream definitions in process. Used by tests and the
// offline route command.
type MemoryCatalog struct {
	mu   sync.RWMutex
	defs []*streams.Stream
	err  error
}

// NewMemoryCatalog creates a catalog seeded with defs.
func NewMemoryCatalog(defs ...*streams.Stream) *MemoryCatalog {
	c := &MemoryCatalog{}
	c.Set(defs...)
	return c
}

// Set replaces the stored definitions.
func (c *MemoryCatalog) Set(defs ...*streams.Stream) {
	cp := make([]*streams.Stream, 0, len(defs))
	for _, d := range defs {
		if d != nil {
			cp = append(cp, d.Clone())
		}
	}
	c.mu.Lock()
	c.defs = cp
	c.mu.Unlock()
}

// FailWith makes every subsequent load return err. A nil err clears it.
func (c *MemoryCatalog) FailWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// LoadEnabledStreams implements Catalog.
func (c *MemoryCatalog) LoadEnabledStreams(ctx context.Context) ([]*streams.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return nil, c.err
	}
	return normalize(c.defs)
}
