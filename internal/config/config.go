// Package config loads the collaborator endpoints file: where the monitoring
// and routing collaborators live and how long each call may take.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type EndpointsConfig struct {
	Metrics MetricsEndpoint `toml:"metrics"`
	Router  RouterEndpoint  `toml:"router"`
}

type MetricsEndpoint struct {
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"`
}

type RouterEndpoint struct {
	LoadBalancerURL string `toml:"load_balancer_url"`
	DNSURL          string `toml:"dns_url"`
	Timeout         string `toml:"timeout"`
}

func LoadEndpointsConfig(path string) (EndpointsConfig, error) {
	var cfg EndpointsConfig
	if err := loadToml(path, &cfg); err != nil {
		return EndpointsConfig{}, err
	}
	if err := ValidateEndpointsConfig(cfg); err != nil {
		return EndpointsConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateEndpointsConfig(cfg EndpointsConfig) error {
	if strings.TrimSpace(cfg.Metrics.BaseURL) == "" {
		return fmt.Errorf("endpoints config missing metrics.base_url")
	}
	if strings.TrimSpace(cfg.Router.LoadBalancerURL) == "" {
		return fmt.Errorf("endpoints config missing router.load_balancer_url")
	}
	if strings.TrimSpace(cfg.Router.DNSURL) == "" {
		return fmt.Errorf("endpoints config missing router.dns_url")
	}
	if _, err := cfg.Metrics.ParseTimeout(); err != nil {
		return err
	}
	if _, err := cfg.Router.ParseTimeout(); err != nil {
		return err
	}
	return nil
}

// ParseTimeout returns the configured sample timeout, zero when unset.
func (e MetricsEndpoint) ParseTimeout() (time.Duration, error) {
	return parseTimeout("metrics", e.Timeout)
}

// ParseTimeout returns the configured apply timeout, zero when unset.
func (e RouterEndpoint) ParseTimeout() (time.Duration, error) {
	return parseTimeout("router", e.Timeout)
}

func parseTimeout(section, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s.timeout invalid: %w", section, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s.timeout must be positive", section)
	}
	return d, nil
}
