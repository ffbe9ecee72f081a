package distance

import (
	"context"

	"routeplan/internal/geo"
)

// Default average speed and urban driving buffer for duration estimates.
const (
	DefaultSpeedKmh    = 50.0
	DefaultUrbanFactor = 1.3
)

// Estimator derives travel cost from great-circle distance and an assumed
// average speed. It is deterministic and side-effect free, so retries are
// always safe.
type Estimator struct {
	SpeedKmh    float64
	UrbanFactor float64
}

func NewEstimator(speedKmh float64) *Estimator {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	return &Estimator{SpeedKmh: speedKmh, UrbanFactor: DefaultUrbanFactor}
}

func (e *Estimator) durationMin(distKm float64) float64 {
	if distKm <= 0 {
		return 0
	}
	f := e.UrbanFactor
	if f <= 0 {
		f = 1
	}
	return distKm / e.SpeedKmh * 60 * f
}

func (e *Estimator) Pairwise(_ context.Context, a, b geo.Point) (Result, error) {
	d := geo.HaversineKm(a, b)
	return Result{DistanceKm: d, DurationMin: e.durationMin(d), Provenance: FallbackGeometric}, nil
}

func (e *Estimator) Matrix(_ context.Context, pts []geo.Point) (MatrixResult, error) {
	n := len(pts)
	dist := make([][]float64, n)
	dur := make([][]float64, n)
	for i := 0; i < n; i++ {
		dist[i] = make([]float64, n)
		dur[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			d := geo.HaversineKm(pts[i], pts[j])
			dist[i][j] = d
			dur[i][j] = e.durationMin(d)
		}
	}
	return MatrixResult{DistanceKm: dist, DurationMin: dur, Provenance: FallbackGeometric}, nil
}

// Geometry degrades to the straight segments between the input points.
func (e *Estimator) Geometry(_ context.Context, pts []geo.Point) ([]geo.Point, Provenance, error) {
	out := make([]geo.Point, len(pts))
	copy(out, pts)
	return out, FallbackGeometric, nil
}
