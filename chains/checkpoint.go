package chains

import (
	"context"
)

// Checkpointer gives one adapter access to its own entry of the checkpoint store.
type Checkpointer struct {
	chain string
	store CheckpointStore

	last    uint64
	written bool
}

func NewCheckpointer(chain string, store CheckpointStore) *Checkpointer {
	return &Checkpointer{chain: chain, store: store}
}

// Load returns the stored height for this chain; found is false on a first run.
func (c *Checkpointer) Load(ctx context.Context) (height uint64, found bool, err error) {
	heights, err := c.store.Load(ctx)
	if err != nil {
		return 0, false, err
	}
	height, found = heights[c.chain]
	if found {
		c.last = height
		c.written = true
	}
	return height, found, nil
}

// Store writes height unless it is already the stored value.
func (c *Checkpointer) Store(ctx context.Context, height uint64) (bool, error) {
	if c.written && c.last == height {
		return false, nil
	}
	if err := c.store.Store(ctx, c.chain, height); err != nil {
		return false, err
	}
	c.last = height
	c.written = true
	return true, nil
}
