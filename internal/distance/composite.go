package distance

import (
	"context"
	"log"

	"routeplan/internal/geo"
	"routeplan/internal/metrics"
)

// Composite prefers the road network and transparently degrades to the
// geometric estimator. Road-network failure is never surfaced as an error,
// only as the provenance on the result.
type Composite struct {
	Road     Provider // nil disables the road network entirely
	Estimate *Estimator
}

func NewComposite(road Provider, est *Estimator) *Composite {
	if est == nil {
		est = NewEstimator(0)
	}
	return &Composite{Road: road, Estimate: est}
}

func (c *Composite) fallback(op string, err error) {
	if err != nil {
		log.Printf("distance: road network %s failed, using geometric fallback: %v", op, err)
	}
	metrics.DistanceFallbacks.WithLabelValues(op).Inc()
}

func (c *Composite) Pairwise(ctx context.Context, a, b geo.Point) (Result, error) {
	if c.Road != nil {
		if r, err := c.Road.Pairwise(ctx, a, b); err == nil {
			return r, nil
		} else if ctx.Err() != nil {
			return Result{}, ctx.Err()
		} else {
			c.fallback("pairwise", err)
		}
	}
	return c.Estimate.Pairwise(ctx, a, b)
}

func (c *Composite) Matrix(ctx context.Context, pts []geo.Point) (MatrixResult, error) {
	if c.Road != nil {
		if m, err := c.Road.Matrix(ctx, pts); err == nil {
			return m, nil
		} else if ctx.Err() != nil {
			return MatrixResult{}, ctx.Err()
		} else {
			c.fallback("matrix", err)
		}
	}
	return c.Estimate.Matrix(ctx, pts)
}

func (c *Composite) Geometry(ctx context.Context, pts []geo.Point) ([]geo.Point, Provenance, error) {
	if c.Road != nil {
		if line, prov, err := c.Road.Geometry(ctx, pts); err == nil {
			return line, prov, nil
		} else if ctx.Err() != nil {
			return nil, "", ctx.Err()
		} else {
			c.fallback("geometry", err)
		}
	}
	return c.Estimate.Geometry(ctx, pts)
}
