package availability

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Repository stores presence records. CompareAndSwap writes next only when
// the stored version equals expectedVersion (0 meaning "no record yet") and
// returns the stored state with the next version.
type Repository interface {
	Get(ctx context.Context, doctorID uuid.UUID) (*State, error)
	CompareAndSwap(ctx context.Context, next State, expectedVersion int64) (*State, error)
}

type MemoryRepository struct {
	mu     sync.RWMutex
	states map[uuid.UUID]State
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{states: make(map[uuid.UUID]State)}
}

func (r *MemoryRepository) Get(_ context.Context, doctorID uuid.UUID) (*State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.states[doctorID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) CompareAndSwap(_ context.Context, next State, expectedVersion int64) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.states[next.DoctorID].Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	next.Version = expectedVersion + 1
	r.states[next.DoctorID] = next
	return &next, nil
}
