package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeEndpoints(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "endpoints.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write endpoints file: %v", err)
	}
	return path
}

func TestLoadEndpointsConfig(t *testing.T) {
	path := writeEndpoints(t, `
[metrics]
base_url = "http://metrics.local:9100"
timeout = "2s"

[router]
load_balancer_url = "http://lb.local:8400"
dns_url = "http://dns.local:8500"
timeout = "8s"
`)

	cfg, err := LoadEndpointsConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Metrics.BaseURL != "http://metrics.local:9100" {
		t.Fatalf("metrics url: %q", cfg.Metrics.BaseURL)
	}
	if d, _ := cfg.Metrics.ParseTimeout(); d != 2*time.Second {
		t.Fatalf("metrics timeout: %s", d)
	}
	if d, _ := cfg.Router.ParseTimeout(); d != 8*time.Second {
		t.Fatalf("router timeout: %s", d)
	}
}

func TestLoadEndpointsConfigRejectsIncomplete(t *testing.T) {
	cases := map[string]string{
		"no metrics": `
[router]
load_balancer_url = "http://lb.local:8400"
dns_url = "http://dns.local:8500"
`,
		"no dns": `
[metrics]
base_url = "http://metrics.local:9100"

[router]
load_balancer_url = "http://lb.local:8400"
`,
		"bad timeout": `
[metrics]
base_url = "http://metrics.local:9100"
timeout = "whenever"

[router]
load_balancer_url = "http://lb.local:8400"
dns_url = "http://dns.local:8500"
`,
		"negative timeout": `
[metrics]
base_url = "http://metrics.local:9100"

[router]
load_balancer_url = "http://lb.local:8400"
dns_url = "http://dns.local:8500"
timeout = "-5s"
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadEndpointsConfig(writeEndpoints(t, content)); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestLoadEndpointsConfigMissingFile(t *testing.T) {
	if _, err := LoadEndpointsConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("missing file must error")
	}
}

func TestParseTimeoutUnsetIsZero(t *testing.T) {
	d, err := MetricsEndpoint{}.ParseTimeout()
	if err != nil || d != 0 {
		t.Fatalf("unset timeout: %s %v", d, err)
	}
}
