package distance

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"coldroute/internal/model"
)

func TestHaversineKnownDistance(t *testing.T) {
	paris := model.GeoPoint{Lat: 48.8566, Lng: 2.3522}
	lyon := model.GeoPoint{Lat: 45.7640, Lng: 4.8357}
	km := HaversineKm(paris, lyon)
	if math.Abs(km-392) > 5 {
		t.Fatalf("paris-lyon = %.1f km, want ~392", km)
	}
	if HaversineKm(paris, paris) != 0 {
		t.Fatal("identical points must be 0 km apart")
	}
}

func TestHaversineProviderMinutes(t *testing.T) {
	h := NewHaversine(60) // 1 km per minute
	from := model.GeoPoint{Lat: 48.85, Lng: 2.35}
	to := model.GeoPoint{Lat: 48.95, Lng: 2.35}
	r, err := h.Distance(context.Background(), from, to)
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	if math.Abs(r.Minutes-r.Km) > 1e-9 {
		t.Fatalf("at 60 kph minutes (%f) should equal km (%f)", r.Minutes, r.Km)
	}
}

type countingProvider struct {
	inner Provider
	calls atomic.Int64
}

func (p *countingProvider) Distance(ctx context.Context, from, to model.GeoPoint) (Result, error) {
	p.calls.Add(1)
	return p.inner.Distance(ctx, from, to)
}

func TestCacheMemoizesPairs(t *testing.T) {
	counting := &countingProvider{inner: NewHaversine(50)}
	c := NewCache(counting)
	from := model.GeoPoint{Lat: 48.85, Lng: 2.35}
	to := model.GeoPoint{Lat: 48.90, Lng: 2.40}

	first, err := c.Distance(context.Background(), from, to)
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := c.Distance(context.Background(), from, to)
		if err != nil {
			t.Fatalf("distance: %v", err)
		}
		if again != first {
			t.Fatal("cached value changed mid-solve")
		}
	}
	if got := counting.calls.Load(); got != 1 {
		t.Fatalf("inner provider called %d times, want 1", got)
	}
}

func TestFixedProvider(t *testing.T) {
	f := NewFixed()
	a := model.GeoPoint{Lat: 1, Lng: 1}
	b := model.GeoPoint{Lat: 2, Lng: 2}
	f.Set(a, b, Result{Km: 7, Minutes: 12})

	r, err := f.Distance(context.Background(), a, b)
	if err != nil || r.Km != 7 || r.Minutes != 12 {
		t.Fatalf("got %+v, %v", r, err)
	}
	if _, err := f.Distance(context.Background(), b, a); err == nil {
		t.Fatal("reverse pair was never loaded, want error")
	}
}
