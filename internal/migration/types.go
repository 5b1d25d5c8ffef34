package migration

import (
	"fmt"
	"time"
)

// Phase describes the controller position in the migration state machine.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseValidating   Phase = "validating"
	PhaseShifting     Phase = "shifting"
	PhaseCompleted    Phase = "completed"
	PhaseRolledBack   Phase = "rolled_back"
)

// Terminal reports whether no further transitions may leave the phase.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseRolledBack
}

// CanTransition reports whether next is reachable from p along the forward
// graph. RolledBack branches off validating and shifting only.
func (p Phase) CanTransition(next Phase) bool {
	switch p {
	case PhaseInitializing:
		return next == PhaseValidating
	case PhaseValidating:
		return next == PhaseShifting || next == PhaseRolledBack
	case PhaseShifting:
		return next == PhaseShifting || next == PhaseCompleted || next == PhaseRolledBack
	default:
		return false
	}
}

func transitionError(from, to Phase) error {
	return fmt.Errorf("migration: invalid phase transition %s -> %s", from, to)
}

// Verdict is one poll-cycle decision from the threshold policy.
type Verdict string

const (
	VerdictAdvance  Verdict = "advance"
	VerdictHold     Verdict = "hold"
	VerdictRollback Verdict = "rollback"
)

// Audit kinds recorded in the verdict position for absorbed errors.
const (
	AuditUnavailable      = "unavailable"
	AuditConflict         = "conflict"
	AuditPartiallyApplied = "partially_applied"
	AuditUnrecoverable    = "unrecoverable"
	AuditAbort            = "abort"
)

// HealthSnapshot is one point-in-time read of the replication pipeline and
// the blue/green target pair. Created once per poll cycle, never mutated.
type HealthSnapshot struct {
	ReplicationLagMillis int64     `json:"replication_lag_ms"`
	ErrorRatePercent     float64   `json:"error_rate_percent"`
	HealthyTargetCount   int       `json:"healthy_targets"`
	TotalTargetCount     int       `json:"total_targets"`
	ObservedAt           time.Time `json:"observed_at"`
}

// Validate enforces snapshot field ranges at the collaborator boundary.
func (s HealthSnapshot) Validate() error {
	if s.ReplicationLagMillis < 0 {
		return fmt.Errorf("migration: negative replication lag %d", s.ReplicationLagMillis)
	}
	if s.ErrorRatePercent < 0 || s.ErrorRatePercent > 100 {
		return fmt.Errorf("migration: error rate %.2f outside [0,100]", s.ErrorRatePercent)
	}
	if s.TotalTargetCount <= 0 {
		return fmt.Errorf("migration: total target count %d must be positive", s.TotalTargetCount)
	}
	if s.HealthyTargetCount < 0 || s.HealthyTargetCount > s.TotalTargetCount {
		return fmt.Errorf("migration: healthy target count %d outside [0,%d]",
			s.HealthyTargetCount, s.TotalTargetCount)
	}
	return nil
}

// TrafficWeight is the live split between the old and new environments.
// Old plus New always equals 100.
type TrafficWeight struct {
	Old int `json:"old"`
	New int `json:"new"`
}

// NewTrafficWeight constructs a validated weight pair.
func NewTrafficWeight(old, new int) (TrafficWeight, error) {
	w := TrafficWeight{Old: old, New: new}
	if err := w.Validate(); err != nil {
		return TrafficWeight{}, err
	}
	return w, nil
}

// Validate enforces the old+new == 100 invariant and per-side ranges.
func (w TrafficWeight) Validate() error {
	if w.Old < 0 || w.Old > 100 || w.New < 0 || w.New > 100 {
		return fmt.Errorf("migration: weight %d/%d outside [0,100]", w.Old, w.New)
	}
	if w.Old+w.New != 100 {
		return fmt.Errorf("migration: weight %d/%d does not sum to 100", w.Old, w.New)
	}
	return nil
}

// Shift moves step points of traffic from old to new, capped at 0/100.
func (w TrafficWeight) Shift(step int) TrafficWeight {
	next := TrafficWeight{Old: w.Old - step, New: w.New + step}
	if next.New >= 100 {
		return TrafficWeight{Old: 0, New: 100}
	}
	return next
}

func (w TrafficWeight) String() string {
	return fmt.Sprintf("%d/%d", w.Old, w.New)
}

// BaselineWeight is the pre-shift split: all traffic on the old environment.
func BaselineWeight() TrafficWeight {
	return TrafficWeight{Old: 100, New: 0}
}

// State is the durable migration record. The store owns it; the controller
// only ever holds a transient read copy and writes through compare-and-swap.
type State struct {
	Phase                Phase         `json:"phase"`
	Current              TrafficWeight `json:"current_weight"`
	LastGood             TrafficWeight `json:"last_good_weight"`
	StepSize             int           `json:"step_size"`
	ConsecutiveGoodPolls int           `json:"consecutive_good_polls"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// NewInitialState seeds a fresh run at the 100/0 baseline.
func NewInitialState(stepSize int, now time.Time) State {
	return State{
		Phase:     PhaseInitializing,
		Current:   BaselineWeight(),
		LastGood:  BaselineWeight(),
		StepSize:  stepSize,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Config carries the run thresholds. Supplied at startup, immutable after.
type Config struct {
	MaxLagMillis               int64
	MaxErrorRatePercent        float64
	MinHealthyFraction         float64
	RequiredGoodPollsToAdvance int
	StepSize                   int
	PollInterval               time.Duration
	SampleTimeout              time.Duration
	ApplyTimeout               time.Duration
}

// Migration run defaults; every field is overridable from the run config.
func DefaultConfig() Config {
	return Config{
		MaxLagMillis:               5000,
		MaxErrorRatePercent:        1.0,
		MinHealthyFraction:         0.9,
		RequiredGoodPollsToAdvance: 3,
		StepSize:                   20,
		PollInterval:               30 * time.Second,
		SampleTimeout:              5 * time.Second,
		ApplyTimeout:               10 * time.Second,
	}
}

// Validate rejects out-of-range thresholds before the run starts.
func (c Config) Validate() error {
	if c.MaxLagMillis <= 0 {
		return fmt.Errorf("%w: max_lag_ms must be positive", ErrInvalidConfiguration)
	}
	if c.MaxErrorRatePercent < 0 || c.MaxErrorRatePercent > 100 {
		return fmt.Errorf("%w: max_error_rate_percent outside [0,100]", ErrInvalidConfiguration)
	}
	if c.MinHealthyFraction <= 0 || c.MinHealthyFraction > 1 {
		return fmt.Errorf("%w: min_healthy_fraction outside (0,1]", ErrInvalidConfiguration)
	}
	if c.RequiredGoodPollsToAdvance < 1 {
		return fmt.Errorf("%w: required_good_polls must be >= 1", ErrInvalidConfiguration)
	}
	if c.StepSize < 1 || c.StepSize > 100 {
		return fmt.Errorf("%w: step_size outside [1,100]", ErrInvalidConfiguration)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidConfiguration)
	}
	if c.SampleTimeout <= 0 {
		return fmt.Errorf("%w: sample_timeout must be positive", ErrInvalidConfiguration)
	}
	if c.ApplyTimeout <= 0 {
		return fmt.Errorf("%w: apply_timeout must be positive", ErrInvalidConfiguration)
	}
	return nil
}

// AuditEvent records one transition or absorbed error, in commit order.
type AuditEvent struct {
	Sequence     uint64          `json:"sequence"`
	Phase        Phase           `json:"phase"`
	WeightBefore TrafficWeight   `json:"weight_before"`
	WeightAfter  TrafficWeight   `json:"weight_after"`
	Snapshot     *HealthSnapshot `json:"snapshot,omitempty"`
	Verdict      string          `json:"verdict"`
	Timestamp    time.Time       `json:"timestamp"`
}
