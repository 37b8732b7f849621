package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/identity"
	"github.com/hackgods/telehealth-scheduling/internal/notify"
	"github.com/hackgods/telehealth-scheduling/internal/schedule"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

var (
	ErrSlotNotFound            = apperr.New(apperr.NotFound, "slot not found in doctor's schedule")
	ErrSlotInPast              = apperr.New(apperr.Validation, "slot is in the past")
	ErrAppointmentExpiredState = apperr.New(apperr.Conflict, "appointment has expired")
	ErrInvalidStatusTransition = apperr.New(apperr.Conflict, "invalid status transition")
	ErrForbidden               = apperr.New(apperr.Forbidden, "not allowed to act on this appointment")
)

const statusAttempts = 3

var tracer = otel.Tracer("telehealth/appointment")

// Schedules is the part of the schedule store the booking service needs.
type Schedules interface {
	Get(ctx context.Context, doctorID uuid.UUID) (*schedule.Schedule, error)
	SetSchedule(ctx context.Context, doctorID uuid.UUID, slots []time.Time) (*schedule.Schedule, []uuid.UUID, error)
}

type Service struct {
	repo      Repository
	schedules Schedules
	notifier  notify.Notifier
	cfg       config.Config
	log       *logrus.Logger
	now       func() time.Time
}

func NewService(repo Repository, schedules Schedules, notifier notify.Notifier, cfg config.Config, log *logrus.Logger) *Service {
	return &Service{
		repo:      repo,
		schedules: schedules,
		notifier:  notifier,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// BookSlot reserves slotTime on the doctor's schedule for the patient. The
// reservation is a single conditional insert; the loser of a race gets
// ErrSlotTaken and is not retried. The doctor's live presence is not
// consulted.
func (s *Service) BookSlot(ctx context.Context, doctorID, patientID uuid.UUID, slotTime time.Time, actor identity.Actor) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.BookSlot")
	defer span.End()
	span.SetAttributes(
		attribute.String("doctor_id", doctorID.String()),
		attribute.String("slot_time", slotTime.UTC().Format(time.RFC3339)),
	)

	if !actor.Is(patientID) {
		return nil, ErrForbidden
	}

	now := s.now()
	slot := schedule.Normalize(slotTime)
	if !slot.After(now) {
		return nil, ErrSlotInPast
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout.Std())
	defer cancel()

	sched, err := s.schedules.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !sched.Contains(slot) {
		return nil, ErrSlotNotFound
	}

	expiresAt := now.Add(s.cfg.AppointmentTTL.Std())
	if slot.Before(expiresAt) {
		expiresAt = slot
	}

	created, err := s.repo.Create(ctx, Appointment{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		PatientID: patientID,
		SlotTime:  slot,
		Status:    StatusPending,
		ExpiresAt: expiresAt.UTC(),
	})
	if err != nil {
		if !errors.Is(err, ErrSlotTaken) {
			span.RecordError(err)
		}
		return nil, err
	}

	// A schedule replacement may have removed the slot between our read and
	// the insert. Replacements bump the version before scanning bookings, so
	// re-reading here closes the window.
	current, err := s.schedules.Get(ctx, doctorID)
	if err != nil || (current.Version != sched.Version && !current.Contains(slot)) {
		s.rollback(ctx, created)
		if err != nil {
			return nil, fmt.Errorf("re-check schedule: %w", err)
		}
		return nil, ErrSlotNotFound
	}

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"doctor_id":  doctorID.String(),
		"patient_id": patientID.String(),
		"slot_time":  slot,
		"expires_at": created.ExpiresAt,
	})
	s.publish(ctx, notify.AppointmentCreated, created, "")

	s.log.WithFields(logrus.Fields{
		"appointment_id": created.ID,
		"doctor_id":      doctorID,
		"slot_time":      slot,
	}).Info("slot booked")

	return created, nil
}

// rollback cancels a reservation whose slot left the schedule mid-booking.
func (s *Service) rollback(ctx context.Context, a *Appointment) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.repo.UpdateAppointmentStatus(ctx, a.ID, StatusPending, StatusCancelled); err != nil {
		s.log.WithField("appointment_id", a.ID).WithError(err).Error("failed to release reservation")
		return
	}
	s.logEvent(ctx, a.ID, EventAppointmentCancelled, map[string]any{"reason": ReasonScheduleChanged})
}

// Cancel cancels a pending or confirmed appointment and frees its slot.
// Cancelling a cancelled appointment succeeds without change.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor identity.Actor) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout.Std())
	defer cancel()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Is(appt.PatientID) && !actor.Is(appt.DoctorID) {
		return nil, ErrForbidden
	}
	return s.cancel(ctx, appt, ReasonRequested)
}

func (s *Service) cancel(ctx context.Context, appt *Appointment, reason string) (*Appointment, error) {
	for attempt := 0; attempt < statusAttempts; attempt++ {
		switch appt.Status {
		case StatusCancelled:
			return appt, nil
		case StatusCompleted:
			return nil, fmt.Errorf("%w: appointment is completed", ErrInvalidStatusTransition)
		}

		updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCancelled)
		if err == nil {
			s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{"reason": reason})
			s.publish(ctx, notify.AppointmentCancelled, updated, reason)
			return updated, nil
		}
		if !errors.Is(err, ErrStatusChanged) {
			return nil, fmt.Errorf("cancel appointment: %w", err)
		}

		if appt, err = s.repo.GetAppointmentByID(ctx, appt.ID); err != nil {
			return nil, err
		}
	}
	return nil, ErrStatusChanged
}

// Confirm moves a pending appointment to confirmed. Only the appointment's
// doctor may confirm; a lapsed pending appointment is cancelled instead.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor identity.Actor) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout.Std())
	defer cancel()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Is(appt.DoctorID) {
		return nil, ErrForbidden
	}

	if appt.Status == StatusPending && !appt.ExpiresAt.After(s.now()) {
		if _, err := s.cancel(ctx, appt, ReasonExpired); err != nil {
			s.log.WithField("appointment_id", appt.ID).WithError(err).Warn("failed to cancel expired appointment during confirm")
		}
		return nil, ErrAppointmentExpiredState
	}

	updated, err := s.advance(ctx, appt, StatusPending, StatusConfirmed)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentConfirmed, map[string]any{})
	s.publish(ctx, notify.AppointmentConfirmed, updated, "")
	return updated, nil
}

// Complete marks a confirmed appointment as held. Only the appointment's
// doctor may complete it.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor identity.Actor) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout.Std())
	defer cancel()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Is(appt.DoctorID) {
		return nil, ErrForbidden
	}

	updated, err := s.advance(ctx, appt, StatusConfirmed, StatusCompleted)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCompleted, map[string]any{})
	s.publish(ctx, notify.AppointmentCompleted, updated, "")
	return updated, nil
}

func (s *Service) advance(ctx context.Context, appt *Appointment, from, to AppointmentStatus) (*Appointment, error) {
	if appt.Status != from {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, to)
	}
	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, from, to)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, err
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return updated, nil
}

// ApplySchedule replaces the doctor's schedule and cancels the appointments
// whose slots it dropped. The replacement stands even if a cancellation
// fails; those are logged and left for the next replacement or the sweeper.
func (s *Service) ApplySchedule(ctx context.Context, doctorID uuid.UUID, slots []time.Time, actor identity.Actor) (*schedule.Schedule, []uuid.UUID, error) {
	if !actor.Is(doctorID) {
		return nil, nil, ErrForbidden
	}

	sched, affected, err := s.schedules.SetSchedule(ctx, doctorID, slots)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout.Std())
	defer cancel()

	cancelled := make([]uuid.UUID, 0, len(affected))
	for _, id := range affected {
		appt, err := s.repo.GetAppointmentByID(ctx, id)
		if err == nil && appt.Status == StatusCompleted {
			continue
		}
		if err == nil {
			_, err = s.cancel(ctx, appt, ReasonScheduleChanged)
		}
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"appointment_id": id,
				"doctor_id":      doctorID,
			}).WithError(err).Error("failed to cancel appointment dropped from schedule")
			continue
		}
		cancelled = append(cancelled, id)
	}

	notify.Send(ctx, s.notifier, s.log, notify.Event{
		Type:     notify.ScheduleUpdated,
		DoctorID: doctorID,
	})

	return sched, cancelled, nil
}

// SweepResult counts what one SweepExpired pass changed.
type SweepResult struct {
	Expired   int
	Completed int
}

// SweepExpired cancels pending appointments nobody confirmed in time and
// completes confirmed ones whose slot has ended. Intended to be called by
// the worker periodically.
func (s *Service) SweepExpired(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()

	expired, err := s.repo.FindExpiredPending(ctx, now)
	if err != nil {
		return res, fmt.Errorf("find expired pending appointments: %w", err)
	}
	for i := range expired {
		appt := expired[i]
		updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusCancelled)
		if err != nil {
			if !errors.Is(err, ErrStatusChanged) {
				s.log.WithField("appointment_id", appt.ID).WithError(err).Error("failed to expire appointment")
			}
			continue
		}
		res.Expired++
		s.logEvent(ctx, appt.ID, EventAppointmentCancelled, map[string]any{"reason": ReasonExpired})
		s.publish(ctx, notify.AppointmentCancelled, updated, ReasonExpired)
	}

	finished, err := s.repo.FindConfirmedBefore(ctx, now.Add(-s.cfg.SlotDuration.Std()))
	if err != nil {
		return res, fmt.Errorf("find finished appointments: %w", err)
	}
	for _, appt := range finished {
		updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusConfirmed, StatusCompleted)
		if err != nil {
			if !errors.Is(err, ErrStatusChanged) {
				s.log.WithField("appointment_id", appt.ID).WithError(err).Error("failed to complete appointment")
			}
			continue
		}
		res.Completed++
		s.logEvent(ctx, appt.ID, EventAppointmentCompleted, map[string]any{"reason": "slot_ended"})
		s.publish(ctx, notify.AppointmentCompleted, updated, "")
	}

	return res, nil
}

// GetAppointment returns an appointment to one of its participants.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID, actor identity.Actor) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout.Std())
	defer cancel()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Is(appt.PatientID) && !actor.Is(appt.DoctorID) {
		return nil, ErrForbidden
	}
	return appt, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int, actor identity.Actor) ([]Appointment, error) {
	if !actor.Is(patientID) {
		return nil, ErrForbidden
	}
	limit, offset = Page(limit, offset)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout.Std())
	defer cancel()

	appointments, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// ListAppointmentsByDoctor retrieves appointments for a specific doctor
func (s *Service) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int, actor identity.Actor) ([]Appointment, error) {
	if !actor.Is(doctorID) {
		return nil, ErrForbidden
	}
	limit, offset = Page(limit, offset)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout.Std())
	defer cancel()

	appointments, err := s.repo.ListByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appointments, nil
}

// Page clamps list paging to the defaults: 20 per page, at most 100.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) publish(ctx context.Context, eventType string, a *Appointment, reason string) {
	apptID, patientID, slot := a.ID, a.PatientID, a.SlotTime
	notify.Send(ctx, s.notifier, s.log, notify.Event{
		Type:          eventType,
		DoctorID:      a.DoctorID,
		PatientID:     &patientID,
		AppointmentID: &apptID,
		SlotTime:      &slot,
		Reason:        reason,
	})
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).Warnf("failed to marshal event payload for %s", eventType)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.WithFields(logrus.Fields{
			"event":          eventType,
			"appointment_id": appointmentID,
		}).WithError(err).Warn("failed to insert event log")
	}
}
