package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgStateSchema = `
CREATE TABLE IF NOT EXISTS migration_state (
	run_id TEXT PRIMARY KEY,
	version BIGINT NOT NULL,
	phase TEXT NOT NULL,
	old_weight INT NOT NULL,
	new_weight INT NOT NULL,
	last_good_old INT NOT NULL,
	last_good_new INT NOT NULL,
	step_size INT NOT NULL,
	good_polls INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// pgQuerier is the slice of the pgx connection the store needs.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the durable Store binding. Conditional writes carry the
// expected version in the WHERE clause, so a concurrent writer that advanced
// the row first turns this writer's commit into a Conflict.
type PostgresStore struct {
	conn  pgQuerier
	runID string
}

// NewPostgresStore connects, ensures the schema, and seeds the run row when
// absent. An existing row wins: a restarted controller resumes, not resets.
func NewPostgresStore(ctx context.Context, dsn, runID string, initial State) (*PostgresStore, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("migration: connect state store: %w", err)
	}
	store := &PostgresStore{conn: conn, runID: runID}
	if err := store.init(ctx, initial); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) init(ctx context.Context, initial State) error {
	if _, err := s.conn.Exec(ctx, pgStateSchema); err != nil {
		return fmt.Errorf("migration: ensure state schema: %w", err)
	}
	_, err := s.conn.Exec(ctx,
		`INSERT INTO migration_state
			(run_id, version, phase, old_weight, new_weight,
			 last_good_old, last_good_new, step_size, good_polls,
			 created_at, updated_at)
		 VALUES ($1, 1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (run_id) DO NOTHING`,
		s.runID, string(initial.Phase),
		initial.Current.Old, initial.Current.New,
		initial.LastGood.Old, initial.LastGood.New,
		initial.StepSize, initial.ConsecutiveGoodPolls,
		initial.CreatedAt, initial.UpdatedAt)
	if err != nil {
		return fmt.Errorf("migration: seed state row: %w", err)
	}
	return nil
}

func (s *PostgresStore) Read(ctx context.Context) (State, uint64, error) {
	var (
		state   State
		version uint64
		phase   string
	)
	err := s.conn.QueryRow(ctx,
		`SELECT version, phase, old_weight, new_weight,
			last_good_old, last_good_new, step_size, good_polls,
			created_at, updated_at
		 FROM migration_state WHERE run_id = $1`, s.runID).
		Scan(&version, &phase,
			&state.Current.Old, &state.Current.New,
			&state.LastGood.Old, &state.LastGood.New,
			&state.StepSize, &state.ConsecutiveGoodPolls,
			&state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, 0, fmt.Errorf("migration: state row missing for run %q", s.runID)
		}
		return State{}, 0, fmt.Errorf("%w: read state: %v", ErrUnavailable, err)
	}
	state.Phase = Phase(phase)
	return state, version, nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, version uint64, next State) error {
	if err := next.Current.Validate(); err != nil {
		return err
	}
	if err := next.LastGood.Validate(); err != nil {
		return err
	}
	tag, err := s.conn.Exec(ctx,
		`UPDATE migration_state
		 SET version = version + 1, phase = $3,
			old_weight = $4, new_weight = $5,
			last_good_old = $6, last_good_new = $7,
			step_size = $8, good_polls = $9, updated_at = $10
		 WHERE run_id = $1 AND version = $2`,
		s.runID, version, string(next.Phase),
		next.Current.Old, next.Current.New,
		next.LastGood.Old, next.LastGood.New,
		next.StepSize, next.ConsecutiveGoodPolls, next.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: write state: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: version %d superseded", ErrConflict, version)
	}
	return nil
}

// Close releases the underlying connection when the store owns one.
func (s *PostgresStore) Close(ctx context.Context) error {
	if conn, ok := s.conn.(*pgx.Conn); ok {
		return conn.Close(ctx)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
