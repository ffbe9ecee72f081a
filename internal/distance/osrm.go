package distance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"routeplan/internal/geo"
)

// OSRM queries an OSRM server for road-network distances, durations and
// route geometry. Matrix lookups use a single batched /table call.
// The client is safe for concurrent use.
type OSRM struct {
	baseURL string
	profile string
	http    *http.Client
	limiter *rate.Limiter
}

func NewOSRM(baseURL string, requestsPerSec float64) *OSRM {
	if requestsPerSec <= 0 {
		requestsPerSec = 10
	}
	return &OSRM{
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: "driving",
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), 1),
	}
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("osrm: status %d: %s", e.Code, e.Body)
}

type osrmRoute struct {
	Distance float64 `json:"distance"` // meters
	Duration float64 `json:"duration"` // seconds
	Geometry *struct {
		Coordinates [][]float64 `json:"coordinates"` // lon,lat
	} `json:"geometry"`
}

type osrmRouteResponse struct {
	Code   string      `json:"code"`
	Routes []osrmRoute `json:"routes"`
}

type osrmTableResponse struct {
	Code      string       `json:"code"`
	Distances [][]*float64 `json:"distances"` // meters
	Durations [][]*float64 `json:"durations"` // seconds
}

func coordPath(pts []geo.Point) string {
	parts := make([]string, len(pts))
	for i, p := range pts {
		// OSRM wants lon,lat
		parts[i] = strconv.FormatFloat(p.Lon, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lat, 'f', 6, 64)
	}
	return strings.Join(parts, ";")
}

// get performs a rate-limited GET with retry on transient failures
// (429/5xx and network errors), honoring context cancellation.
func (o *OSRM) get(ctx context.Context, url string) ([]byte, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("osrm: create request: %w", err)
		}
		resp, err := o.http.Do(req)
		if err == nil {
			body, rerr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if rerr != nil {
				err = rerr
			} else if resp.StatusCode >= 400 {
				err = &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
			} else {
				return body, nil
			}
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case 429, 500, 502, 503, 504:
				retry = true
			}
		}
		var ne net.Error
		if !retry && errors.As(err, &ne) {
			retry = true
		}
		if !retry || attempt == maxAttempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (o *OSRM) route(ctx context.Context, pts []geo.Point, withGeometry bool) (osrmRoute, error) {
	overview := "false"
	if withGeometry {
		overview = "full"
	}
	url := fmt.Sprintf("%s/route/v1/%s/%s?overview=%s&geometries=geojson",
		o.baseURL, o.profile, coordPath(pts), overview)
	body, err := o.get(ctx, url)
	if err != nil {
		return osrmRoute{}, err
	}
	var rr osrmRouteResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return osrmRoute{}, fmt.Errorf("osrm: decode route response: %w", err)
	}
	if rr.Code != "Ok" || len(rr.Routes) == 0 {
		return osrmRoute{}, fmt.Errorf("osrm: route not found: code=%s", rr.Code)
	}
	return rr.Routes[0], nil
}

func (o *OSRM) Pairwise(ctx context.Context, a, b geo.Point) (Result, error) {
	rt, err := o.route(ctx, []geo.Point{a, b}, false)
	if err != nil {
		return Result{}, err
	}
	return Result{
		DistanceKm:  rt.Distance / 1000,
		DurationMin: rt.Duration / 60,
		Provenance:  RoadNetwork,
	}, nil
}

// Matrix fetches the full table in one batched request.
func (o *OSRM) Matrix(ctx context.Context, pts []geo.Point) (MatrixResult, error) {
	n := len(pts)
	if n == 0 {
		return MatrixResult{Provenance: RoadNetwork}, nil
	}
	url := fmt.Sprintf("%s/table/v1/%s/%s?annotations=distance,duration",
		o.baseURL, o.profile, coordPath(pts))
	body, err := o.get(ctx, url)
	if err != nil {
		return MatrixResult{}, err
	}
	var tr osrmTableResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return MatrixResult{}, fmt.Errorf("osrm: decode table response: %w", err)
	}
	if tr.Code != "Ok" || len(tr.Distances) != n || len(tr.Durations) != n {
		return MatrixResult{}, fmt.Errorf("osrm: table incomplete: code=%s rows=%d want=%d", tr.Code, len(tr.Distances), n)
	}
	dist := make([][]float64, n)
	dur := make([][]float64, n)
	for i := 0; i < n; i++ {
		if len(tr.Distances[i]) != n || len(tr.Durations[i]) != n {
			return MatrixResult{}, fmt.Errorf("osrm: table row %d incomplete", i)
		}
		dist[i] = make([]float64, n)
		dur[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			dp, tp := tr.Distances[i][j], tr.Durations[i][j]
			if dp == nil || tp == nil {
				return MatrixResult{}, fmt.Errorf("osrm: unroutable pair %d->%d", i, j)
			}
			dist[i][j] = *dp / 1000
			dur[i][j] = *tp / 60
		}
	}
	return MatrixResult{DistanceKm: dist, DurationMin: dur, Provenance: RoadNetwork}, nil
}

func (o *OSRM) Geometry(ctx context.Context, pts []geo.Point) ([]geo.Point, Provenance, error) {
	if len(pts) < 2 {
		return append([]geo.Point(nil), pts...), RoadNetwork, nil
	}
	rt, err := o.route(ctx, pts, true)
	if err != nil {
		return nil, "", err
	}
	if rt.Geometry == nil {
		return nil, "", errors.New("osrm: route response missing geometry")
	}
	line := make([]geo.Point, 0, len(rt.Geometry.Coordinates))
	for _, c := range rt.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		line = append(line, geo.Point{Lat: c[1], Lon: c[0]})
	}
	return line, RoadNetwork, nil
}
