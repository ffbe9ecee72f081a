package api

import (
	"strings"

	"routeplan/internal/assign"
	"routeplan/internal/config"
	"routeplan/internal/distance"
	"routeplan/internal/planner"
	"routeplan/internal/sequence"
	"routeplan/internal/store"
	"routeplan/internal/webhooks"
)

type Server struct {
	Store    store.Store
	Pub      *webhooks.Publisher
	Broker   EventBroker
	Planner  *planner.Planner
	Provider distance.Provider
	Cfg      config.Config
}

// NewServer wires storage, the distance provider stack and the planner from
// config. With no DATABASE_URL the in-memory store is used; with no OSRM_URL
// every distance is a geometric estimate.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s = sp
	}

	est := distance.NewEstimator(cfg.Planner.AvgSpeedKmh)
	var provider distance.Provider = est
	if cfg.OSRMURL != "" {
		provider = distance.NewComposite(distance.NewOSRM(cfg.OSRMURL, cfg.OSRMRatePerSec), est)
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	var solver sequence.Solver
	if cfg.Planner.SolverEnabled {
		solver = &sequence.AnnealingSolver{Seed: cfg.Planner.SolverSeed}
	}
	pl := &planner.Planner{
		Store:    s,
		Provider: provider,
		Params: planner.Params{
			MaxRadiusKm:      cfg.Planner.MaxRadiusKm,
			MinClusterSize:   cfg.Planner.MinClusterSize,
			MaxClusterSize:   cfg.Planner.MaxClusterSize,
			Strategy:         assign.Strategy(cfg.Planner.Strategy),
			Solver:           solver,
			SolverBudget:     cfg.Planner.SolverBudget.Std(),
			ParkingMaxWalkKm: cfg.Planner.ParkingMaxWalkKm,
		},
	}

	return &Server{
		Store:    s,
		Pub:      webhooks.NewPublisher(s),
		Broker:   broker,
		Planner:  pl,
		Provider: provider,
		Cfg:      cfg,
	}, nil
}

// NewWebhookWorker creates the background delivery worker.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.Webhooks.MaxAttempts, s.Cfg.Webhooks.Interval.Std())
}
