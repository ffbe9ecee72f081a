// Package distance resolves travel distance, duration and geometry between
// geographic points, preferring a road network service and degrading to a
// great-circle estimate when the service is unavailable.
package distance

import (
	"context"

	"routeplan/internal/geo"
)

// Provenance records which path produced a result.
type Provenance string

const (
	RoadNetwork       Provenance = "road_network"
	FallbackGeometric Provenance = "fallback_geometric"
)

// Result is a single point-to-point lookup.
type Result struct {
	DistanceKm  float64    `json:"distanceKm"`
	DurationMin float64    `json:"durationMin"`
	Provenance  Provenance `json:"provenance"`
}

// MatrixResult holds the full N×N lookup for a point set.
// Provenance is all-or-nothing: a partial road-network failure downgrades
// the whole matrix so callers never mix accuracy levels within one plan.
type MatrixResult struct {
	DistanceKm  [][]float64 `json:"distanceKm"`
	DurationMin [][]float64 `json:"durationMin"`
	Provenance  Provenance  `json:"provenance"`
}

// UsedRoadNetwork reports whether the matrix came from the road network.
func (m MatrixResult) UsedRoadNetwork() bool { return m.Provenance == RoadNetwork }

// Provider is the travel cost source used throughout the engine.
type Provider interface {
	// Pairwise returns distance and duration between two points.
	Pairwise(ctx context.Context, a, b geo.Point) (Result, error)
	// Matrix returns the full pairwise table for pts.
	Matrix(ctx context.Context, pts []geo.Point) (MatrixResult, error)
	// Geometry returns the road polyline through the ordered points.
	// A geometric fallback returns the points themselves (straight segments).
	Geometry(ctx context.Context, pts []geo.Point) ([]geo.Point, Provenance, error)
}
