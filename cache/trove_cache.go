// Package cache implements the Sorted Trove Cache: a TTL'd in-memory snapshot
// of risk-sorted troves. It is correctness-critical (SPEC_FULL.md §0/DESIGN.md):
// the CDP strategy routes every load through it and invalidates it explicitly,
// never relying on TTL alone.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/nhbchain/liquidationd/store"
)

// troveLoader is the subset of store.Store the cache needs, so tests can
// supply a fake without a real database.
type troveLoader interface {
	GetAllActiveTroves(ctx context.Context) ([]store.TroveRow, error)
}

type snapshot struct {
	troves   []store.TroveRow
	cachedAt time.Time
}

// TroveCache holds one snapshot behind a single read-write lock: readers take
// shared access, writers exclusive, exactly as spec.md §5 describes.
type TroveCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	cur *snapshot
}

// New returns a cache with the given time-to-live.
func New(ttl time.Duration) *TroveCache {
	return &TroveCache{ttl: ttl}
}

// GetSorted returns the cached snapshot if one exists and is still within
// TTL; otherwise it reloads from the store and caches the result.
func (c *TroveCache) GetSorted(ctx context.Context, loader troveLoader) ([]store.TroveRow, error) {
	c.mu.RLock()
	cur := c.cur
	c.mu.RUnlock()

	if cur != nil && time.Since(cur.cachedAt) <= c.ttl {
		return cur.troves, nil
	}

	troves, err := loader.GetAllActiveTroves(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cur = &snapshot{troves: troves, cachedAt: time.Now()}
	c.mu.Unlock()

	return troves, nil
}

// Invalidate drops the cached snapshot. The CDP strategy calls this whenever
// a TroveUpdated event has been applied within the current block, and after
// any block in which at least one liquidation was issued.
func (c *TroveCache) Invalidate() {
	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()
}
