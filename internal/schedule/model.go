package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Schedule is the full set of slots a doctor offers. It is replaced as a
// whole; Version increases on every replacement.
type Schedule struct {
	DoctorID  uuid.UUID   `json:"doctor_id"`
	Slots     []time.Time `json:"slots"`
	Version   int64       `json:"version"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Contains reports whether t is one of the schedule's slots.
func (s *Schedule) Contains(t time.Time) bool {
	t = Normalize(t)
	i := searchSlots(s.Slots, t)
	return i < len(s.Slots) && s.Slots[i].Equal(t)
}

// Between returns the slots in [from, to).
func (s *Schedule) Between(from, to time.Time) []time.Time {
	lo := searchSlots(s.Slots, from)
	hi := searchSlots(s.Slots, to)
	if lo >= hi {
		return nil
	}
	out := make([]time.Time, hi-lo)
	copy(out, s.Slots[lo:hi])
	return out
}

type SlotStatus string

const (
	SlotOpen   SlotStatus = "open"
	SlotBooked SlotStatus = "booked"
)

// Slot is one offered time with its derived booking status.
type Slot struct {
	Time          time.Time  `json:"time"`
	Status        SlotStatus `json:"status"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

// Booking is an active (not cancelled) appointment holding a slot.
type Booking struct {
	AppointmentID uuid.UUID
	SlotTime      time.Time
}

// Normalize puts t into the canonical stored form: UTC with microsecond
// precision, which is what Postgres timestamptz keeps.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// DayBounds returns the start of day's calendar day in day's location and
// the start of the next one.
func DayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}
