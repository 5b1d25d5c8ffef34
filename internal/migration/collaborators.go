package migration

import "context"

// MetricsSource samples point-in-time health from the monitoring
// collaborator. Implementations must bound every call with a deadline and
// surface transport failures as ErrUnavailable-wrapped errors.
type MetricsSource interface {
	Sample(ctx context.Context) (HealthSnapshot, error)
}

// TrafficRouter pushes a weight pair to the routing collaborator. Apply is
// idempotent; a split write where one mechanism updated and the other did
// not surfaces as an ErrPartiallyApplied-wrapped error.
type TrafficRouter interface {
	Apply(ctx context.Context, weight TrafficWeight) error
}
