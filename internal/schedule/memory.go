package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu        sync.RWMutex
	schedules map[uuid.UUID]Schedule
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{schedules: make(map[uuid.UUID]Schedule)}
}

func (r *MemoryRepository) Get(_ context.Context, doctorID uuid.UUID) (*Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schedules[doctorID]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return cloneSchedule(s), nil
}

func (r *MemoryRepository) Replace(_ context.Context, doctorID uuid.UUID, slots []time.Time, expectedVersion int64) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.schedules[doctorID]
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	next := Schedule{
		DoctorID:  doctorID,
		Slots:     append([]time.Time(nil), slots...),
		Version:   expectedVersion + 1,
		UpdatedAt: time.Now().UTC(),
	}
	r.schedules[doctorID] = next
	return cloneSchedule(next), nil
}

func cloneSchedule(s Schedule) *Schedule {
	s.Slots = append([]time.Time(nil), s.Slots...)
	return &s
}
