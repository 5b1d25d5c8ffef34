package migration

import (
	"context"
	"fmt"
	"sync"
)

// Store holds the migration state under optimistic concurrency. Read returns
// the state with its version; CompareAndSwap commits only when the stored
// version still matches, so two writers racing on one version never both
// succeed.
type Store interface {
	Read(ctx context.Context) (State, uint64, error)
	CompareAndSwap(ctx context.Context, version uint64, next State) error
}

// MemoryStore is the in-process Store used for single-node runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	state   State
	version uint64
}

// NewMemoryStore seeds a memory store at version 1.
func NewMemoryStore(initial State) *MemoryStore {
	return &MemoryStore{state: initial, version: 1}
}

func (s *MemoryStore) Read(_ context.Context) (State, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.version, nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, version uint64, next State) error {
	if err := next.Current.Validate(); err != nil {
		return err
	}
	if err := next.LastGood.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if version != s.version {
		return fmt.Errorf("%w: have %d want %d", ErrConflict, s.version, version)
	}
	s.state = next
	s.version++
	return nil
}
