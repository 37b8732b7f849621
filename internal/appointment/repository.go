package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/schedule"
)

var (
	ErrAppointmentNotFound = apperr.New(apperr.NotFound, "appointment not found")
	ErrSlotTaken           = apperr.New(apperr.Conflict, "slot already has an active appointment")
	ErrStatusChanged       = apperr.New(apperr.Conflict, "appointment status changed concurrently")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// Create inserts a pending appointment unless another active appointment
	// holds the same (doctor, slot) pair, in which case it returns
	// ErrSlotTaken. The check and the insert are one atomic step.
	Create(ctx context.Context, a Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateAppointmentStatus moves the appointment from -> to, failing with
	// ErrStatusChanged when it is no longer in from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Slot occupancy for the schedule store
	ActiveBookings(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.Booking, error)

	// Sweeper
	FindExpiredPending(ctx context.Context, now time.Time) ([]Appointment, error)
	FindConfirmedBefore(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
