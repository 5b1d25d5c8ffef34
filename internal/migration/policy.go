package migration

// Evaluate maps one health snapshot to a verdict for the current poll cycle.
// Pure: same snapshot, state, and config always yield the same verdict.
//
// Rollback conditions are checked in priority order before any advance
// decision; the advance decision applies the configured hysteresis so a
// single good poll never moves traffic on its own.
func Evaluate(snap HealthSnapshot, state State, cfg Config) Verdict {
	if snap.ReplicationLagMillis > cfg.MaxLagMillis {
		return VerdictRollback
	}
	if snap.ErrorRatePercent > cfg.MaxErrorRatePercent {
		return VerdictRollback
	}
	if healthyFraction(snap) < cfg.MinHealthyFraction {
		return VerdictRollback
	}
	if state.ConsecutiveGoodPolls+1 >= cfg.RequiredGoodPollsToAdvance {
		return VerdictAdvance
	}
	return VerdictHold
}

func healthyFraction(snap HealthSnapshot) float64 {
	if snap.TotalTargetCount <= 0 {
		return 0
	}
	return float64(snap.HealthyTargetCount) / float64(snap.TotalTargetCount)
}
