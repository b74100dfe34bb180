package distance

import (
	"context"

	"coldroute/internal/model"
)

// Result is pairwise travel cost between two points.
type Result struct {
	Km      float64
	Minutes float64
}

// Provider supplies travel distance and duration. Implementations may be
// approximate (straight-line) or routed; the solver is agnostic to which.
// Values must be deterministic within one solve call.
type Provider interface {
	Distance(ctx context.Context, from, to model.GeoPoint) (Result, error)
}

// MatrixProvider optionally batches a full matrix for N points.
type MatrixProvider interface {
	Provider
	Matrix(ctx context.Context, points []model.GeoPoint) ([][]Result, error)
}
