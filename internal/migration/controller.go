package migration

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/shiftctl/internal/observability"
	"github.com/rs/zerolog"
)

// abortBudget bounds the rollback work done after the run context is
// canceled; cancellation is a rollback trigger, never a silent stop.
const abortBudget = 60 * time.Second

// Controller drives one migration run: poll health, evaluate, commit the
// next weight through compare-and-swap, push it to the router, audit. A
// controller instance owns its run exclusively; a second concurrent Run is
// rejected outright.
type Controller struct {
	runID    string
	cfg      Config
	store    Store
	metrics  MetricsSource
	router   TrafficRouter
	rollback *RollbackManager
	audit    *AuditLog
	logger   zerolog.Logger
	running  atomic.Bool
}

func NewController(runID string, cfg Config, store Store, metrics MetricsSource, router TrafficRouter, audit *AuditLog, logger zerolog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		runID:    runID,
		cfg:      cfg,
		store:    store,
		metrics:  metrics,
		router:   router,
		rollback: NewRollbackManager(store, router, audit, cfg.ApplyTimeout, logger),
		audit:    audit,
		logger:   logger,
	}, nil
}

// Run blocks until the migration reaches a terminal phase or fails with an
// unrecoverable error. Context cancellation triggers the rollback path.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrControllerBusy
	}
	defer c.running.Store(false)

	done, err := c.initialize(ctx)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	for {
		if ctx.Err() != nil {
			return c.abortRun()
		}
		done, err := c.step(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := sleepContext(ctx, c.cfg.PollInterval); err != nil {
			return c.abortRun()
		}
	}
}

// initialize moves Initializing -> Validating once the store reports the
// 100/0 baseline and the metrics collaborator answers at least once. A
// resumed run that is already past Initializing skips straight to the loop.
func (c *Controller) initialize(ctx context.Context) (bool, error) {
	state, version, err := c.store.Read(ctx)
	if err != nil {
		return false, err
	}
	if state.Phase.Terminal() {
		c.logger.Info().
			Str("phase", string(state.Phase)).
			Str("weight", state.Current.String()).
			Msg("run already finished, nothing to drive")
		return true, nil
	}
	if state.Phase != PhaseInitializing {
		c.logger.Info().
			Str("phase", string(state.Phase)).
			Str("weight", state.Current.String()).
			Msg("resuming migration run")
		observability.RecordPhase(c.runID, string(state.Phase))
		return false, nil
	}
	if state.Current != BaselineWeight() {
		return false, fmt.Errorf("migration: initial weight %s is not the 100/0 baseline", state.Current)
	}

	for {
		if ctx.Err() != nil {
			// Nothing has shifted yet; the abort needs no router push.
			c.audit.Append(state.Phase, state.Current, state.Current, nil, AuditAbort)
			c.logger.Info().Msg("run aborted before validation began")
			return true, nil
		}

		sampleCtx, cancel := context.WithTimeout(ctx, c.cfg.SampleTimeout)
		snap, err := c.metrics.Sample(sampleCtx)
		cancel()
		if err == nil {
			err = snap.Validate()
		}
		if err == nil {
			for attempt := 1; ; attempt++ {
				next := state
				next.Phase = PhaseValidating
				next.ConsecutiveGoodPolls = 0
				next.UpdatedAt = time.Now().UTC()

				casErr := c.store.CompareAndSwap(ctx, version, next)
				if casErr == nil {
					c.audit.Append(PhaseValidating, state.Current, next.Current, &snap, string(VerdictHold))
					observability.RecordPhase(c.runID, string(PhaseValidating))
					observability.RecordWeight(c.runID, next.Current.Old, next.Current.New)
					c.logger.Info().
						Str("weight", next.Current.String()).
						Msg("metrics collaborator reachable, validating new environment")
					return false, nil
				}
				if !errors.Is(casErr, ErrConflict) {
					return false, casErr
				}
				observability.RecordCASConflict(c.runID)

				latest, latestVersion, readErr := c.store.Read(ctx)
				if readErr != nil {
					return false, readErr
				}
				if latest.Phase.Terminal() {
					return true, nil
				}
				if latest.Phase != PhaseInitializing {
					// Another writer already began the run; join the loop.
					c.logger.Info().
						Str("phase", string(latest.Phase)).
						Msg("run begun by a concurrent writer, resuming")
					observability.RecordPhase(c.runID, string(latest.Phase))
					return false, nil
				}
				state, version = latest, latestVersion
				if attempt == maxCASAttempts {
					c.audit.Append(state.Phase, state.Current, state.Current, &snap, AuditConflict)
					c.logger.Warn().
						Int("attempts", maxCASAttempts).
						Msg("weight store contention on validation commit, holding")
					break
				}
			}
		} else {
			c.audit.Append(state.Phase, state.Current, state.Current, nil, AuditUnavailable)
			observability.RecordPollCycle(c.runID, AuditUnavailable)
			c.logger.Warn().Err(err).Msg("initial metrics sample failed, retrying")
		}
		if err := sleepContext(ctx, c.cfg.PollInterval); err != nil {
			continue
		}
	}
}

// step runs one poll cycle. It returns done=true when the run reached a
// terminal phase. Transient failures are absorbed: audited, logged, and the
// loop holds until the next tick.
func (c *Controller) step(ctx context.Context) (bool, error) {
	state, version, err := c.store.Read(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("state read failed, holding")
		observability.RecordPollCycle(c.runID, AuditUnavailable)
		return false, nil
	}
	if state.Phase.Terminal() {
		return true, nil
	}

	sampleCtx, cancel := context.WithTimeout(ctx, c.cfg.SampleTimeout)
	snap, err := c.metrics.Sample(sampleCtx)
	cancel()
	if err == nil {
		err = snap.Validate()
	}
	if err != nil {
		c.audit.Append(state.Phase, state.Current, state.Current, nil, AuditUnavailable)
		observability.RecordPollCycle(c.runID, AuditUnavailable)
		c.logger.Warn().Err(err).Msg("health sample unavailable, holding")
		return false, nil
	}

	verdict := Evaluate(snap, state, c.cfg)
	observability.RecordPollCycle(c.runID, string(verdict))

	switch verdict {
	case VerdictRollback:
		next, err := c.rollback.Rollback(ctx, state, version, &snap, string(VerdictRollback))
		if err != nil {
			return false, err
		}
		observability.RecordPhase(c.runID, string(next.Phase))
		observability.RecordWeight(c.runID, next.Current.Old, next.Current.New)
		return true, nil
	case VerdictAdvance:
		return c.advance(ctx, state, version, &snap)
	default:
		c.commitHold(ctx, state, version, &snap)
		return false, nil
	}
}

// commitHold persists the incremented good-poll counter. Failures here are
// absorbed; the counter is recomputed from scratch on the next cycle anyway.
func (c *Controller) commitHold(ctx context.Context, state State, version uint64, snap *HealthSnapshot) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		next := state
		next.ConsecutiveGoodPolls++
		next.UpdatedAt = time.Now().UTC()

		err := c.store.CompareAndSwap(ctx, version, next)
		if err == nil {
			c.audit.Append(next.Phase, state.Current, next.Current, snap, string(VerdictHold))
			return
		}
		if !errors.Is(err, ErrConflict) {
			c.audit.Append(state.Phase, state.Current, state.Current, snap, AuditUnavailable)
			c.logger.Warn().Err(err).Msg("hold commit failed, holding without write")
			return
		}
		observability.RecordCASConflict(c.runID)
		if attempt == maxCASAttempts {
			break
		}
		latest, latestVersion, readErr := c.store.Read(ctx)
		if readErr != nil || latest.Phase.Terminal() {
			return
		}
		state, version = latest, latestVersion
	}
	c.audit.Append(state.Phase, state.Current, state.Current, snap, AuditConflict)
	c.logger.Warn().
		Int("attempts", maxCASAttempts).
		Msg("weight store contention on hold commit, another writer is active")
}

// advance commits the next step of the state machine and pushes the new
// weight. Validating graduates to Shifting without moving traffic; Shifting
// moves stepSize points and completes when the new side reaches 100.
func (c *Controller) advance(ctx context.Context, state State, version uint64, snap *HealthSnapshot) (bool, error) {
	var next State
	for attempt := 1; ; attempt++ {
		next = state
		next.ConsecutiveGoodPolls = 0
		next.UpdatedAt = time.Now().UTC()

		switch state.Phase {
		case PhaseValidating:
			next.Phase = PhaseShifting
		case PhaseShifting:
			next.LastGood = state.Current
			next.Current = state.Current.Shift(state.StepSize)
			if next.Current.New == 100 {
				next.Phase = PhaseCompleted
			}
		default:
			return state.Phase.Terminal(), nil
		}

		err := c.store.CompareAndSwap(ctx, version, next)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrConflict) {
			c.audit.Append(state.Phase, state.Current, state.Current, snap, AuditUnavailable)
			c.logger.Warn().Err(err).Msg("advance commit failed, holding")
			return false, nil
		}
		observability.RecordCASConflict(c.runID)
		if attempt == maxCASAttempts {
			c.audit.Append(state.Phase, state.Current, state.Current, snap, AuditConflict)
			c.logger.Warn().
				Int("attempts", maxCASAttempts).
				Msg("weight store contention on advance, degrading to hold")
			return false, nil
		}
		latest, latestVersion, readErr := c.store.Read(ctx)
		if readErr != nil {
			return false, nil
		}
		if latest.Phase.Terminal() {
			return true, nil
		}
		state, version = latest, latestVersion
	}

	if next.Current != state.Current {
		applyCtx, cancel := context.WithTimeout(ctx, c.cfg.ApplyTimeout)
		err := c.router.Apply(applyCtx, next.Current)
		cancel()
		if err != nil {
			return c.recoverFailedApply(ctx, state, next, snap, err)
		}
	}

	c.audit.Append(next.Phase, state.Current, next.Current, snap, string(VerdictAdvance))
	observability.RecordPhase(c.runID, string(next.Phase))
	observability.RecordWeight(c.runID, next.Current.Old, next.Current.New)
	c.logger.Info().
		Str("phase", string(next.Phase)).
		Str("weight_before", state.Current.String()).
		Str("weight_after", next.Current.String()).
		Msg("traffic advanced")

	return next.Phase == PhaseCompleted, nil
}

// recoverFailedApply reconciles the store with routing reality after a
// failed push. A partial apply is rollback-eligible and terminates the run;
// a wholly failed push reverts the commit and holds, since the router still
// serves the previous weight untouched.
func (c *Controller) recoverFailedApply(ctx context.Context, state, next State, snap *HealthSnapshot, applyErr error) (bool, error) {
	if errors.Is(applyErr, ErrPartiallyApplied) {
		c.audit.Append(next.Phase, state.Current, next.Current, snap, AuditPartiallyApplied)
		observability.RecordPollCycle(c.runID, AuditPartiallyApplied)
		c.logger.Error().Err(applyErr).
			Str("weight", next.Current.String()).
			Msg("split routing write, forcing rollback to last good weight")

		latest, latestVersion, err := c.store.Read(ctx)
		if err != nil {
			return false, err
		}
		rolled, err := c.rollback.Rollback(ctx, latest, latestVersion, snap, AuditPartiallyApplied)
		if err != nil {
			return false, err
		}
		observability.RecordPhase(c.runID, string(rolled.Phase))
		observability.RecordWeight(c.runID, rolled.Current.Old, rolled.Current.New)
		return true, nil
	}

	c.audit.Append(next.Phase, state.Current, next.Current, snap, AuditUnavailable)
	observability.RecordPollCycle(c.runID, AuditUnavailable)
	c.logger.Warn().Err(applyErr).
		Str("weight", next.Current.String()).
		Msg("routing push failed, reverting committed step")

	latest, latestVersion, err := c.store.Read(ctx)
	if err != nil {
		return false, nil
	}
	if latest.Phase.Terminal() {
		return true, nil
	}
	for attempt := 1; attempt <= 2; attempt++ {
		revert := state
		revert.UpdatedAt = time.Now().UTC()
		casErr := c.store.CompareAndSwap(ctx, latestVersion, revert)
		if casErr == nil {
			return false, nil
		}
		if !errors.Is(casErr, ErrConflict) || attempt == 2 {
			// The committed weight and the weight actually serving traffic
			// disagree; record the divergence for status readers.
			c.audit.Append(next.Phase, next.Current, state.Current, snap, AuditConflict)
			c.logger.Error().Err(casErr).
				Str("committed_weight", next.Current.String()).
				Str("serving_weight", state.Current.String()).
				Msg("revert of failed step lost a version race")
			return false, nil
		}
		observability.RecordCASConflict(c.runID)
		latest, latestVersion, err = c.store.Read(ctx)
		if err != nil {
			return false, nil
		}
		if latest.Phase.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// abortRun handles operator cancellation: roll back to last good under a
// detached deadline, since the run context is already gone.
func (c *Controller) abortRun() error {
	ctx, cancel := context.WithTimeout(context.Background(), abortBudget)
	defer cancel()

	state, version, err := c.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("%w: abort state read: %v", ErrUnrecoverable, err)
	}
	if state.Phase.Terminal() {
		return nil
	}
	if state.Phase == PhaseInitializing {
		c.audit.Append(state.Phase, state.Current, state.Current, nil, AuditAbort)
		c.logger.Info().Msg("run aborted during initialization, traffic untouched")
		return nil
	}

	c.logger.Warn().
		Str("phase", string(state.Phase)).
		Str("weight", state.Current.String()).
		Msg("abort requested, rolling back")
	rolled, err := c.rollback.Rollback(ctx, state, version, nil, AuditAbort)
	if err != nil {
		return err
	}
	observability.RecordPhase(c.runID, string(rolled.Phase))
	observability.RecordWeight(c.runID, rolled.Current.Old, rolled.Current.New)
	return nil
}
