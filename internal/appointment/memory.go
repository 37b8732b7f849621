package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/schedule"
)

type slotKey struct {
	doctorID uuid.UUID
	micros   int64
}

func keyOf(doctorID uuid.UUID, slot time.Time) slotKey {
	return slotKey{doctorID: doctorID, micros: slot.UnixMicro()}
}

// MemoryRepository keeps appointments in process. The active map plays the
// role of the partial unique index.
type MemoryRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]Appointment
	active       map[slotKey]uuid.UUID
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]Appointment),
		active:       make(map[slotKey]uuid.UUID),
	}
}

func (r *MemoryRepository) Create(_ context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a.SlotTime = schedule.Normalize(a.SlotTime)
	key := keyOf(a.DoctorID, a.SlotTime)
	if _, taken := r.active[key]; taken {
		return nil, ErrSlotTaken
	}

	now := time.Now().UTC()
	a.Status = StatusPending
	a.CreatedAt = now
	a.UpdatedAt = now
	r.appointments[a.ID] = a
	r.active[key] = a.ID
	return &a, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrStatusChanged
	}

	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	r.appointments[id] = a
	if !to.Active() {
		delete(r.active, keyOf(a.DoctorID, a.SlotTime))
	}
	return &a, nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(func(a Appointment) bool { return a.PatientID == patientID }, limit, offset), nil
}

func (r *MemoryRepository) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(func(a Appointment) bool { return a.DoctorID == doctorID }, limit, offset), nil
}

func (r *MemoryRepository) list(match func(Appointment) bool, limit, offset int) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Appointment{}
	for _, a := range r.appointments {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SlotTime.Equal(out[j].SlotTime) {
			return out[i].SlotTime.After(out[j].SlotTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if offset >= len(out) {
		return []Appointment{}
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (r *MemoryRepository) ActiveBookings(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []schedule.Booking
	for key, id := range r.active {
		if key.doctorID != doctorID {
			continue
		}
		slot := r.appointments[id].SlotTime
		if slot.Before(from) || (!to.IsZero() && !slot.Before(to)) {
			continue
		}
		out = append(out, schedule.Booking{AppointmentID: id, SlotTime: slot})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotTime.Before(out[j].SlotTime) })
	return out, nil
}

func (r *MemoryRepository) FindExpiredPending(_ context.Context, now time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusPending && a.ExpiresAt.Before(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryRepository) FindConfirmedBefore(_ context.Context, cutoff time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusConfirmed && a.SlotTime.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns the event log written so far.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}
