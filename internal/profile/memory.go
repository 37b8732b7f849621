package profile

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository keeps profiles in process. Used in tests and by the
// api-server when STORE_BACKEND=memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	doctors map[uuid.UUID]Doctor
}

func NewMemoryRepository(doctors ...Doctor) *MemoryRepository {
	r := &MemoryRepository{doctors: make(map[uuid.UUID]Doctor)}
	for _, d := range doctors {
		r.Put(d)
	}
	return r
}

// Put stands in for the profile service writing a profile.
func (r *MemoryRepository) Put(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctors[d.ID] = d
}

func (r *MemoryRepository) Delete(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.doctors, id)
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Doctor
	for _, d := range r.doctors {
		if f.VerifiedOnly && !d.Verified {
			continue
		}
		if f.MinRating > 0 && d.Rating < f.MinRating {
			continue
		}
		if f.Specialization != "" && !d.HasSpecialization(f.Specialization) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}
