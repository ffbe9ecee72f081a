package distance

import (
	"context"
	"errors"
	"testing"

	"routeplan/internal/geo"
)

var (
	origin = geo.Point{Lat: 0, Lon: 0}
	oneDeg = geo.Point{Lat: 1, Lon: 0}
)

func TestEstimatorPairwise(t *testing.T) {
	e := NewEstimator(0)
	r, err := e.Pairwise(context.Background(), origin, oneDeg)
	if err != nil {
		t.Fatalf("pairwise: %v", err)
	}
	if r.Provenance != FallbackGeometric {
		t.Fatalf("estimator must report geometric provenance, got %s", r.Provenance)
	}
	// 50 km/h with the urban buffer: minutes = km / 50 * 60 * 1.3
	want := r.DistanceKm / DefaultSpeedKmh * 60 * DefaultUrbanFactor
	if r.DurationMin != want {
		t.Fatalf("duration %v, want %v", r.DurationMin, want)
	}
}

func TestEstimatorMatrixDeterministicAndSymmetric(t *testing.T) {
	e := NewEstimator(40)
	pts := []geo.Point{origin, oneDeg, {Lat: 0, Lon: 1}}
	m1, err := e.Matrix(context.Background(), pts)
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	m2, _ := e.Matrix(context.Background(), pts)
	for i := range m1.DistanceKm {
		if m1.DistanceKm[i][i] != 0 {
			t.Fatalf("diagonal must be zero")
		}
		for j := range m1.DistanceKm[i] {
			if m1.DistanceKm[i][j] != m2.DistanceKm[i][j] {
				t.Fatalf("estimator matrix not deterministic at %d,%d", i, j)
			}
			if m1.DistanceKm[i][j] != m1.DistanceKm[j][i] {
				t.Fatalf("geometric matrix should be symmetric at %d,%d", i, j)
			}
		}
	}
	if m1.UsedRoadNetwork() {
		t.Fatalf("estimator matrix must not claim road network accuracy")
	}
}

// failingProvider simulates an unreachable road-network service.
type failingProvider struct{}

var errDown = errors.New("connection refused")

func (failingProvider) Pairwise(context.Context, geo.Point, geo.Point) (Result, error) {
	return Result{}, errDown
}
func (failingProvider) Matrix(context.Context, []geo.Point) (MatrixResult, error) {
	return MatrixResult{}, errDown
}
func (failingProvider) Geometry(context.Context, []geo.Point) ([]geo.Point, Provenance, error) {
	return nil, "", errDown
}

func TestCompositeFallsBackWithoutError(t *testing.T) {
	c := NewComposite(failingProvider{}, NewEstimator(0))
	r, err := c.Pairwise(context.Background(), origin, oneDeg)
	if err != nil {
		t.Fatalf("road network failure must degrade, not fail: %v", err)
	}
	if r.Provenance != FallbackGeometric {
		t.Fatalf("fallback result must carry geometric provenance, got %s", r.Provenance)
	}
	m, err := c.Matrix(context.Background(), []geo.Point{origin, oneDeg})
	if err != nil {
		t.Fatalf("matrix fallback: %v", err)
	}
	if m.UsedRoadNetwork() {
		t.Fatalf("degraded matrix must not claim road network accuracy")
	}
	line, prov, err := c.Geometry(context.Background(), []geo.Point{origin, oneDeg})
	if err != nil {
		t.Fatalf("geometry fallback: %v", err)
	}
	if prov != FallbackGeometric || len(line) != 2 {
		t.Fatalf("expected straight-line geometry fallback, got %s with %d points", prov, len(line))
	}
}

func TestCompositePropagatesCancellation(t *testing.T) {
	c := NewComposite(failingProvider{}, NewEstimator(0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Pairwise(ctx, origin, oneDeg); err == nil {
		t.Fatalf("cancellation must not be masked by the fallback")
	}
}

// okProvider returns canned road-network results.
type okProvider struct{}

func (okProvider) Pairwise(context.Context, geo.Point, geo.Point) (Result, error) {
	return Result{DistanceKm: 2.5, DurationMin: 4, Provenance: RoadNetwork}, nil
}
func (okProvider) Matrix(_ context.Context, pts []geo.Point) (MatrixResult, error) {
	n := len(pts)
	dist := make([][]float64, n)
	dur := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		dur[i] = make([]float64, n)
	}
	return MatrixResult{DistanceKm: dist, DurationMin: dur, Provenance: RoadNetwork}, nil
}
func (okProvider) Geometry(_ context.Context, pts []geo.Point) ([]geo.Point, Provenance, error) {
	return pts, RoadNetwork, nil
}

func TestCompositePrefersRoadNetwork(t *testing.T) {
	c := NewComposite(okProvider{}, NewEstimator(0))
	r, err := c.Pairwise(context.Background(), origin, oneDeg)
	if err != nil {
		t.Fatalf("pairwise: %v", err)
	}
	if r.Provenance != RoadNetwork || r.DistanceKm != 2.5 {
		t.Fatalf("road result should pass through unchanged: %+v", r)
	}
}
