package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// Active reports whether the appointment still holds its slot. Only
// cancellation releases a slot; completed appointments keep it.
func (s AppointmentStatus) Active() bool {
	return s != StatusCancelled
}

// Cancellation reasons, recorded in the event log and sent with
// notifications.
const (
	ReasonRequested       = "requested"
	ReasonExpired         = "expired"
	ReasonScheduleChanged = "schedule_changed"
)

type Appointment struct {
	ID        uuid.UUID         `json:"id"`
	DoctorID  uuid.UUID         `json:"doctor_id"`
	PatientID uuid.UUID         `json:"patient_id"`
	SlotTime  time.Time         `json:"slot_time"`
	Status    AppointmentStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	// ExpiresAt is when a pending appointment lapses if the doctor has not
	// confirmed it.
	ExpiresAt time.Time `json:"expires_at"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
