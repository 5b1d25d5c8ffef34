package shift

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/shiftctl/internal/config"
	"github.com/danmuck/shiftctl/internal/migration"
	"github.com/danmuck/shiftctl/internal/testutil/testlog"
)

func validEndpoints() config.EndpointsConfig {
	return config.EndpointsConfig{
		Metrics: config.MetricsEndpoint{BaseURL: "http://metrics.local:9100"},
		Router: config.RouterEndpoint{
			LoadBalancerURL: "http://lb.local:8400",
			DNSURL:          "http://dns.local:8500",
		},
	}
}

func validServiceConfig() ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.Endpoints = validEndpoints()
	return cfg
}

func TestNewServiceAcceptsDefaults(t *testing.T) {
	testlog.Start(t)

	if _, err := NewService(validServiceConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)

	cases := map[string]func(*ServiceConfig){
		"blank run id":        func(c *ServiceConfig) { c.RunID = "  " },
		"zero step":           func(c *ServiceConfig) { c.Migration.StepSize = 0 },
		"step over hundred":   func(c *ServiceConfig) { c.Migration.StepSize = 150 },
		"zero poll interval":  func(c *ServiceConfig) { c.Migration.PollInterval = 0 },
		"missing metrics url": func(c *ServiceConfig) { c.Endpoints.Metrics.BaseURL = "" },
		"missing lb url":      func(c *ServiceConfig) { c.Endpoints.Router.LoadBalancerURL = "" },
		"missing dns url":     func(c *ServiceConfig) { c.Endpoints.Router.DNSURL = "" },
		"garbage timeout":     func(c *ServiceConfig) { c.Endpoints.Metrics.Timeout = "soon" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validServiceConfig()
			mutate(&cfg)
			_, err := NewService(cfg)
			if !errors.Is(err, migration.ErrInvalidConfiguration) {
				t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}

func TestNewServiceDefaultsAuditWindow(t *testing.T) {
	testlog.Start(t)

	cfg := validServiceConfig()
	cfg.AuditWindow = -5
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.cfg.AuditWindow != defaultAuditWindow {
		t.Fatalf("audit window: got %d want %d", svc.cfg.AuditWindow, defaultAuditWindow)
	}
}

func TestAbortBeforeRunIsRefused(t *testing.T) {
	testlog.Start(t)

	svc, err := NewService(validServiceConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Abort() {
		t.Fatal("abort with no active run must report false")
	}
}

func TestAbortIsIdempotent(t *testing.T) {
	testlog.Start(t)

	svc, err := NewService(validServiceConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.abortFunc = cancel

	if !svc.Abort() {
		t.Fatal("first abort must report true")
	}
	if svc.Abort() {
		t.Fatal("repeated abort must report false")
	}
}

// newRunningService returns a service wired to an in-memory store, the way
// Run's bootstrap leaves it, without any collaborator traffic.
func newRunningService(t *testing.T, state migration.State) *Service {
	t.Helper()
	svc, err := NewService(validServiceConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.logger = zerolog.Nop()
	svc.appeared = time.Now()
	svc.store = migration.NewMemoryStore(state)
	svc.audit = migration.NewAuditLog(svc.cfg.AuditWindow)
	return svc
}

func TestStatusReflectsStore(t *testing.T) {
	testlog.Start(t)

	initial := migration.NewInitialState(20, time.Now().UTC())
	svc := newRunningService(t, initial)

	state, version, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if version != 1 || state.Phase != migration.PhaseInitializing {
		t.Fatalf("got version %d phase %s", version, state.Phase)
	}
}
