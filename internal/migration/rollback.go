package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxRollbackPushes = 3
	maxCASAttempts    = 3
)

// RollbackManager forces traffic back to the last known-good weight. The
// phase moves to RolledBack only after the routing push is confirmed, so the
// committed state never claims a rollback that did not reach the router.
type RollbackManager struct {
	store        Store
	router       TrafficRouter
	audit        *AuditLog
	backoff      BackoffConfig
	applyTimeout time.Duration
	logger       zerolog.Logger

	// sleep is swappable in tests to skip real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRollbackManager(store Store, router TrafficRouter, audit *AuditLog, applyTimeout time.Duration, logger zerolog.Logger) *RollbackManager {
	return &RollbackManager{
		store:        store,
		router:       router,
		audit:        audit,
		backoff:      DefaultRollbackBackoff(),
		applyTimeout: applyTimeout,
		logger:       logger,
		sleep:        sleepContext,
	}
}

// Rollback pushes state.LastGood with bounded retries, then commits the
// RolledBack phase through compare-and-swap. reason lands in the audit
// record (a rollback verdict, an abort, or a partial-apply escalation).
//
// An unconfirmed push after all retries returns ErrUnrecoverable with the
// phase untouched; a falsely recorded RolledBack is worse than a frozen run.
func (m *RollbackManager) Rollback(ctx context.Context, state State, version uint64, snap *HealthSnapshot, reason string) (State, error) {
	if state.Phase.Terminal() {
		return state, nil
	}
	if !state.Phase.CanTransition(PhaseRolledBack) {
		return state, transitionError(state.Phase, PhaseRolledBack)
	}

	target := state.LastGood
	if err := m.pushWithRetries(ctx, target); err != nil {
		m.audit.Append(state.Phase, state.Current, state.Current, snap, AuditUnrecoverable)
		m.logger.Error().
			Str("phase", string(state.Phase)).
			Str("target_weight", target.String()).
			Err(err).
			Msg("rollback push unconfirmed, operator intervention required")
		return state, fmt.Errorf("%w: %v", ErrUnrecoverable, err)
	}

	before := state.Current
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		next := state
		next.Phase = PhaseRolledBack
		next.Current = target
		next.ConsecutiveGoodPolls = 0
		next.UpdatedAt = time.Now().UTC()

		err := m.store.CompareAndSwap(ctx, version, next)
		if err == nil {
			m.audit.Append(PhaseRolledBack, before, target, snap, reason)
			m.logger.Warn().
				Str("weight_before", before.String()).
				Str("weight_after", target.String()).
				Str("reason", reason).
				Msg("migration rolled back")
			return next, nil
		}
		if !errors.Is(err, ErrConflict) {
			return state, err
		}

		latest, latestVersion, readErr := m.store.Read(ctx)
		if readErr != nil {
			return state, readErr
		}
		if latest.Phase.Terminal() {
			// Another writer already finalized the run.
			return latest, nil
		}
		state, version = latest, latestVersion
	}

	m.audit.Append(state.Phase, before, before, snap, AuditUnrecoverable)
	return state, fmt.Errorf("%w: rollback commit lost %d version races", ErrUnrecoverable, maxCASAttempts)
}

func (m *RollbackManager) pushWithRetries(ctx context.Context, target TrafficWeight) error {
	var lastErr error
	for attempt := 1; attempt <= maxRollbackPushes; attempt++ {
		applyCtx, cancel := context.WithTimeout(ctx, m.applyTimeout)
		err := m.router.Apply(applyCtx, target)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		m.logger.Warn().
			Int("attempt", attempt).
			Int("max_attempts", maxRollbackPushes).
			Str("target_weight", target.String()).
			Err(err).
			Msg("rollback push failed")
		if attempt == maxRollbackPushes {
			break
		}
		if err := m.sleep(ctx, NextBackoffDelay(m.backoff, attempt)); err != nil {
			return fmt.Errorf("rollback interrupted: %w", lastErr)
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
