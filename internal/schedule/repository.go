package schedule

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
)

var (
	ErrScheduleNotFound = apperr.New(apperr.NotFound, "schedule not found")
	ErrVersionConflict  = apperr.New(apperr.Conflict, "schedule was modified concurrently")
)

// Repository stores schedules. Replace is an optimistic write: it succeeds
// only when the stored version equals expectedVersion (0 meaning "no
// schedule yet") and returns the stored schedule with the next version.
type Repository interface {
	Get(ctx context.Context, doctorID uuid.UUID) (*Schedule, error)
	Replace(ctx context.Context, doctorID uuid.UUID, slots []time.Time, expectedVersion int64) (*Schedule, error)
}

// Bookings exposes the appointment store's view of which slots are taken.
// ActiveBookings returns non-cancelled appointments of the doctor with slot
// time in [from, to); a zero to means no upper bound.
type Bookings interface {
	ActiveBookings(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Booking, error)
}

func searchSlots(slots []time.Time, t time.Time) int {
	return sort.Search(len(slots), func(i int) bool { return !slots[i].Before(t) })
}
