package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/shiftctl/internal/config"
	"github.com/danmuck/shiftctl/internal/shift"
)

type fileConfig struct {
	RunID           string   `toml:"run_id"`
	AdminListenAddr string   `toml:"admin_listen_addr"`
	CorsOrigins     []string `toml:"cors_origins"`
	StateDSN        string   `toml:"state_dsn"`
	AuditWindow     int      `toml:"audit_window"`
	EndpointsFile   string   `toml:"endpoints_file"`

	MaxLagMS            int64   `toml:"max_lag_ms"`
	MaxErrorRatePercent float64 `toml:"max_error_rate_percent"`
	MinHealthyFraction  float64 `toml:"min_healthy_fraction"`
	RequiredGoodPolls   int     `toml:"required_good_polls"`
	StepSize            int     `toml:"step_size"`
	PollInterval        string  `toml:"poll_interval"`
	PollIntervalSeconds int64   `toml:"poll_interval_seconds"`
	SampleTimeout       string  `toml:"sample_timeout"`
	ApplyTimeout        string  `toml:"apply_timeout"`

	Metrics config.MetricsEndpoint `toml:"metrics"`
	Router  config.RouterEndpoint  `toml:"router"`
}

func loadServiceConfig(path string) (shift.ServiceConfig, error) {
	cfg := shift.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return shift.ServiceConfig{}, fmt.Errorf("load run config: %w", err)
	}

	if meta.IsDefined("run_id") {
		id := strings.TrimSpace(raw.RunID)
		if id != "" {
			cfg.RunID = id
		}
	}

	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	if meta.IsDefined("state_dsn") {
		cfg.StateDSN = strings.TrimSpace(raw.StateDSN)
	}

	if meta.IsDefined("audit_window") {
		cfg.AuditWindow = raw.AuditWindow
	}

	if meta.IsDefined("max_lag_ms") {
		cfg.Migration.MaxLagMillis = raw.MaxLagMS
	}

	if meta.IsDefined("max_error_rate_percent") {
		cfg.Migration.MaxErrorRatePercent = raw.MaxErrorRatePercent
	}

	if meta.IsDefined("min_healthy_fraction") {
		cfg.Migration.MinHealthyFraction = raw.MinHealthyFraction
	}

	if meta.IsDefined("required_good_polls") {
		cfg.Migration.RequiredGoodPollsToAdvance = raw.RequiredGoodPolls
	}

	if meta.IsDefined("step_size") {
		cfg.Migration.StepSize = raw.StepSize
	}

	if meta.IsDefined("poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollInterval))
		if err != nil {
			return shift.ServiceConfig{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.Migration.PollInterval = d
	}

	if meta.IsDefined("poll_interval_seconds") {
		cfg.Migration.PollInterval = time.Duration(raw.PollIntervalSeconds) * time.Second
	}

	if meta.IsDefined("sample_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SampleTimeout))
		if err != nil {
			return shift.ServiceConfig{}, fmt.Errorf("parse sample_timeout: %w", err)
		}
		cfg.Migration.SampleTimeout = d
	}

	if meta.IsDefined("apply_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ApplyTimeout))
		if err != nil {
			return shift.ServiceConfig{}, fmt.Errorf("parse apply_timeout: %w", err)
		}
		cfg.Migration.ApplyTimeout = d
	}

	if meta.IsDefined("metrics") {
		cfg.Endpoints.Metrics = raw.Metrics
	}
	if meta.IsDefined("router") {
		cfg.Endpoints.Router = raw.Router
	}

	// A separate endpoints file wins over inline sections.
	if meta.IsDefined("endpoints_file") {
		endpoints, err := config.LoadEndpointsConfig(strings.TrimSpace(raw.EndpointsFile))
		if err != nil {
			return shift.ServiceConfig{}, err
		}
		cfg.Endpoints = endpoints
	}

	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
