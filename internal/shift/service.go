// Package shift owns the shiftctl runtime: run configuration, the admin
// HTTP surface, and the migration controller lifecycle.
package shift

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/shiftctl/internal/config"
	"github.com/danmuck/shiftctl/internal/migration"
	"github.com/danmuck/shiftctl/internal/monitor"
	"github.com/danmuck/shiftctl/internal/observability"
	trafficrouter "github.com/danmuck/shiftctl/internal/router"
	"github.com/rs/zerolog"
)

var ErrInvalidRunID = errors.New("shift: invalid run id")

const (
	defaultAuditWindow  = 256
	adminShutdownBudget = 5 * time.Second
)

// ServiceConfig configures one shiftctl run.
type ServiceConfig struct {
	RunID           string
	AdminListenAddr string
	CorsOrigins     []string

	// StateDSN selects the durable Postgres weight store; empty keeps the
	// in-process store.
	StateDSN string

	AuditWindow int
	Migration   migration.Config
	Endpoints   config.EndpointsConfig
}

// Shiftctl run defaults; the TOML run config overrides per field.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		RunID:           "migration.local",
		AdminListenAddr: ":7600",
		AuditWindow:     defaultAuditWindow,
		Migration:       migration.DefaultConfig(),
	}
}

// Service wires the store, collaborator clients, controller, and admin
// surface for one run and drives them to completion.
type Service struct {
	cfg    ServiceConfig
	logger zerolog.Logger

	store      migration.Store
	audit      *migration.AuditLog
	controller *migration.Controller

	appeared  time.Time
	abortMu   sync.Mutex
	abortFunc context.CancelFunc
	aborted   bool
}

// NewService validates configuration up front; an invalid config is fatal
// before anything external is touched.
func NewService(cfg ServiceConfig) (*Service, error) {
	if strings.TrimSpace(cfg.RunID) == "" {
		return nil, fmt.Errorf("%w: %w", migration.ErrInvalidConfiguration, ErrInvalidRunID)
	}
	if err := cfg.Migration.Validate(); err != nil {
		return nil, err
	}
	if err := config.ValidateEndpointsConfig(cfg.Endpoints); err != nil {
		return nil, fmt.Errorf("%w: %v", migration.ErrInvalidConfiguration, err)
	}
	if cfg.AuditWindow < 1 {
		cfg.AuditWindow = defaultAuditWindow
	}
	return &Service{
		cfg:    cfg,
		logger: observability.RunLogger(cfg.RunID),
	}, nil
}

// Run blocks until the migration reaches a terminal phase, the rollback path
// fails unrecoverably, or the process receives SIGINT/SIGTERM (which maps to
// the abort path, never a silent stop).
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.bootstrap(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.abortMu.Lock()
	s.abortFunc = cancel
	s.abortMu.Unlock()

	adminErr := make(chan error, 1)
	adminSrv := s.startAdminServer(adminErr)
	defer s.stopAdminServer(adminSrv)

	runErr := s.controller.Run(runCtx)

	select {
	case err := <-adminErr:
		if runErr == nil && err != nil {
			return err
		}
	default:
	}
	return runErr
}

// Abort requests an operator-initiated rollback; idempotent.
func (s *Service) Abort() bool {
	s.abortMu.Lock()
	defer s.abortMu.Unlock()
	if s.abortFunc == nil {
		return false
	}
	first := !s.aborted
	s.aborted = true
	s.abortFunc()
	return first
}

// Status returns the last durably committed state with its store version.
func (s *Service) Status(ctx context.Context) (migration.State, uint64, error) {
	return s.store.Read(ctx)
}

// AuditEvents exposes the bounded audit window for the admin surface.
func (s *Service) AuditEvents(limit int) []migration.AuditEvent {
	return s.audit.Events(limit)
}

func (s *Service) bootstrap(ctx context.Context) error {
	s.appeared = time.Now()

	sampleTimeout, _ := s.cfg.Endpoints.Metrics.ParseTimeout()
	if sampleTimeout > 0 {
		s.cfg.Migration.SampleTimeout = sampleTimeout
	}
	applyTimeout, _ := s.cfg.Endpoints.Router.ParseTimeout()
	if applyTimeout > 0 {
		s.cfg.Migration.ApplyTimeout = applyTimeout
	}

	initial := migration.NewInitialState(s.cfg.Migration.StepSize, time.Now().UTC())
	if strings.TrimSpace(s.cfg.StateDSN) != "" {
		store, err := migration.NewPostgresStore(ctx, s.cfg.StateDSN, s.cfg.RunID, initial)
		if err != nil {
			return err
		}
		s.store = store
		s.logger.Info().Msg("durable weight store attached")
	} else {
		s.store = migration.NewMemoryStore(initial)
	}

	s.audit = migration.NewAuditLog(s.cfg.AuditWindow, migration.NewLogSink(s.logger))

	metricsClient := monitor.NewClient(s.cfg.Endpoints.Metrics.BaseURL, s.cfg.RunID, s.cfg.Migration.SampleTimeout)
	routerClient := trafficrouter.NewClient(
		s.cfg.Endpoints.Router.LoadBalancerURL,
		s.cfg.Endpoints.Router.DNSURL,
		s.cfg.RunID,
		s.cfg.Migration.ApplyTimeout,
	)

	controller, err := migration.NewController(
		s.cfg.RunID, s.cfg.Migration, s.store, metricsClient, routerClient, s.audit, s.logger)
	if err != nil {
		return err
	}
	s.controller = controller

	s.logger.Info().
		Str("admin_addr", s.cfg.AdminListenAddr).
		Int("step_size", s.cfg.Migration.StepSize).
		Dur("poll_interval", s.cfg.Migration.PollInterval).
		Msg("shiftctl bootstrap complete")
	return nil
}

func (s *Service) startAdminServer(errCh chan<- error) *http.Server {
	engine := s.buildRouter()
	srv := &http.Server{
		Addr:    s.cfg.AdminListenAddr,
		Handler: engine,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return srv
}

func (s *Service) stopAdminServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), adminShutdownBudget)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("admin server shutdown incomplete")
	}
}
