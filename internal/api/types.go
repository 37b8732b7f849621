package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/schedule"
)

type SetScheduleRequest struct {
	Slots []time.Time `json:"slots" validate:"required"`
}

type ScheduleResponse struct {
	Schedule                *schedule.Schedule `json:"schedule"`
	CancelledAppointmentIDs []uuid.UUID        `json:"cancelled_appointment_ids"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID       `json:"doctor_id"`
	Date     string          `json:"date"`
	Slots    []schedule.Slot `json:"slots"`
}

type OpenSlotsResponse struct {
	DoctorID uuid.UUID   `json:"doctor_id"`
	Date     string      `json:"date"`
	Slots    []time.Time `json:"slots"`
}

type CreateAppointmentRequest struct {
	DoctorID string    `json:"doctor_id" validate:"required,uuid"`
	SlotTime time.Time `json:"slot_time" validate:"required"`
	// PatientID defaults to the caller.
	PatientID string `json:"patient_id" validate:"omitempty,uuid"`
}

type PresenceRequest struct {
	Trigger string `json:"trigger" validate:"required,oneof=login logout engagement_accepted engagement_ended busy"`
}

type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
