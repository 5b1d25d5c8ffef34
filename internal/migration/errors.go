package migration

import "errors"

var (
	// ErrUnavailable marks transient collaborator failures. The loop absorbs
	// these: no weight change, no phase change, re-poll on the next tick.
	ErrUnavailable = errors.New("migration: collaborator unavailable")

	// ErrConflict marks a weight-store version race. Bounded retry, then the
	// step degrades to a hold with a warning audit event.
	ErrConflict = errors.New("migration: weight store version conflict")

	// ErrPartiallyApplied marks a split routing write where one mechanism
	// updated and the other did not. Forces the rollback path.
	ErrPartiallyApplied = errors.New("migration: weight partially applied")

	// ErrInvalidConfiguration is fatal at startup; the run never begins.
	ErrInvalidConfiguration = errors.New("migration: invalid configuration")

	// ErrUnrecoverable marks a rollback push that could not be confirmed.
	// The phase stays frozen and operator intervention is required.
	ErrUnrecoverable = errors.New("migration: rollback push unconfirmed")

	// ErrControllerBusy rejects a second concurrent Run on one controller.
	ErrControllerBusy = errors.New("migration: controller already running")
)
