package distance

import (
	"context"
	"math"

	"coldroute/internal/model"
)

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(a, b model.GeoPoint) float64 {
	const R = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}

// Haversine is the straight-line fallback provider.
type Haversine struct {
	SpeedKph float64
}

func NewHaversine(speedKph float64) *Haversine {
	if speedKph <= 0 {
		speedKph = 50
	}
	return &Haversine{SpeedKph: speedKph}
}

func (h *Haversine) Distance(_ context.Context, from, to model.GeoPoint) (Result, error) {
	km := HaversineKm(from, to)
	return Result{Km: km, Minutes: km / h.SpeedKph * 60}, nil
}

func (h *Haversine) Matrix(ctx context.Context, points []model.GeoPoint) ([][]Result, error) {
	out := make([][]Result, len(points))
	for i := range points {
		out[i] = make([]Result, len(points))
		for j := range points {
			if i == j {
				continue
			}
			r, _ := h.Distance(ctx, points[i], points[j])
			out[i][j] = r
		}
	}
	return out, nil
}
