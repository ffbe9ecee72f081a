// Package config loads engine settings from an optional YAML file with
// environment variable overrides. Every field has a workable default so the
// service runs with no config at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML strings like "2s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`
	OSRMURL     string `yaml:"osrmUrl"`
	// OSRMRatePerSec caps outbound road-network requests.
	OSRMRatePerSec float64 `yaml:"osrmRatePerSec"`

	Planner  Planner  `yaml:"planner"`
	Webhooks Webhooks `yaml:"webhooks"`
}

// Planner tunes clustering, assignment and sequencing.
type Planner struct {
	MaxRadiusKm      float64  `yaml:"maxRadiusKm"`
	MinClusterSize   int      `yaml:"minClusterSize"`
	MaxClusterSize   int      `yaml:"maxClusterSize"`
	Strategy         string   `yaml:"strategy"` // balanced | roundrobin
	SolverEnabled    bool     `yaml:"solverEnabled"`
	SolverBudget     Duration `yaml:"solverBudget"`
	SolverSeed       int64    `yaml:"solverSeed"`
	ParkingMaxWalkKm float64  `yaml:"parkingMaxWalkKm"`
	AvgSpeedKmh      float64  `yaml:"avgSpeedKmh"`
	MaxDetourKm      float64  `yaml:"maxDetourKm"`
}

type Webhooks struct {
	MaxAttempts int      `yaml:"maxAttempts"`
	Interval    Duration `yaml:"interval"`
}

func defaults() Config {
	return Config{
		Port:           "8080",
		OSRMRatePerSec: 10,
		Planner: Planner{
			MaxRadiusKm:      2.0,
			MinClusterSize:   3,
			MaxClusterSize:   12,
			Strategy:         "balanced",
			SolverEnabled:    true,
			SolverBudget:     Duration(2 * time.Second),
			SolverSeed:       1,
			ParkingMaxWalkKm: 0.6,
			AvgSpeedKmh:      50,
			MaxDetourKm:      3.0,
		},
		Webhooks: Webhooks{
			MaxAttempts: 8,
			Interval:    Duration(2 * time.Second),
		},
	}
}

// Load reads path when non-empty (missing file is an error; empty path is
// not), then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("OSRM_URL"); v != "" {
		cfg.OSRMURL = v
	}
	if v := os.Getenv("OSRM_RATE_PER_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.OSRMRatePerSec = f
		}
	}
	if v := os.Getenv("PLANNER_STRATEGY"); v != "" {
		cfg.Planner.Strategy = v
	}
	if v := os.Getenv("SOLVER_BUDGET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Planner.SolverBudget = Duration(d)
		}
	}
	if v := os.Getenv("SOLVER_ENABLED"); v != "" {
		cfg.Planner.SolverEnabled = v == "1" || v == "true"
	}
}

func (c Config) validate() error {
	if c.Planner.MaxRadiusKm <= 0 {
		return fmt.Errorf("config: maxRadiusKm must be positive, got %v", c.Planner.MaxRadiusKm)
	}
	if c.Planner.MinClusterSize < 1 {
		return fmt.Errorf("config: minClusterSize must be at least 1, got %d", c.Planner.MinClusterSize)
	}
	if c.Planner.MaxClusterSize < c.Planner.MinClusterSize {
		return fmt.Errorf("config: maxClusterSize %d below minClusterSize %d", c.Planner.MaxClusterSize, c.Planner.MinClusterSize)
	}
	switch c.Planner.Strategy {
	case "balanced", "roundrobin":
	default:
		return fmt.Errorf("config: unknown strategy %q", c.Planner.Strategy)
	}
	return nil
}
