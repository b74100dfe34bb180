package distance

import (
	"context"
	"fmt"
	"sync"

	"coldroute/internal/model"
)

// Cache memoizes pairwise lookups so a solve sees the same value for a pair
// no matter how many times it asks. Scope one Cache per solve call.
type Cache struct {
	inner Provider
	mu    sync.Mutex
	m     map[string]Result
}

func NewCache(inner Provider) *Cache {
	return &Cache{inner: inner, m: map[string]Result{}}
}

func (c *Cache) Distance(ctx context.Context, from, to model.GeoPoint) (Result, error) {
	k := pairKey(from, to)
	c.mu.Lock()
	if r, ok := c.m[k]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()
	r, err := c.inner.Distance(ctx, from, to)
	if err != nil {
		return Result{}, err
	}
	c.mu.Lock()
	c.m[k] = r
	c.mu.Unlock()
	return r, nil
}

func pairKey(a, b model.GeoPoint) string {
	return fmt.Sprintf("%.6f,%.6f|%.6f,%.6f", a.Lat, a.Lng, b.Lat, b.Lng)
}

// Fixed serves distances from a preloaded table, for tests and replay.
type Fixed struct {
	mu sync.Mutex
	m  map[string]Result
}

func NewFixed() *Fixed { return &Fixed{m: map[string]Result{}} }

func (f *Fixed) Set(from, to model.GeoPoint, r Result) {
	f.mu.Lock()
	f.m[pairKey(from, to)] = r
	f.mu.Unlock()
}

func (f *Fixed) Distance(_ context.Context, from, to model.GeoPoint) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.m[pairKey(from, to)]; ok {
		return r, nil
	}
	return Result{}, fmt.Errorf("no distance loaded for %v -> %v", from, to)
}
