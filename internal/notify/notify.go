// Package notify hands domain events to the notification collaborator.
// Delivery is fire-and-forget: a failed publish is logged and never undoes
// the state change that produced the event.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Routing keys, also used as Event.Type.
const (
	AppointmentCreated   = "appointment.created"
	AppointmentConfirmed = "appointment.confirmed"
	AppointmentCancelled = "appointment.cancelled"
	AppointmentCompleted = "appointment.completed"
	PresenceChanged      = "presence.changed"
	ScheduleUpdated      = "schedule.updated"
)

type Event struct {
	Type          string     `json:"type"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	PatientID     *uuid.UUID `json:"patient_id,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	SlotTime      *time.Time `json:"slot_time,omitempty"`
	Presence      string     `json:"presence,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

const publishTimeout = 2 * time.Second

// Send publishes ev once and only logs a failure. The publish runs on a
// context detached from the request so a client disconnect does not drop it.
func Send(ctx context.Context, n Notifier, log *logrus.Logger, ev Event) {
	if n == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := n.Notify(pubCtx, ev); err != nil && log != nil {
		log.WithFields(logrus.Fields{
			"event":     ev.Type,
			"doctor_id": ev.DoctorID,
		}).WithError(err).Warn("notification not delivered")
	}
}

// LogNotifier writes events to the log. Used when no broker is configured.
type LogNotifier struct {
	Log *logrus.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	fields := logrus.Fields{
		"event":     ev.Type,
		"doctor_id": ev.DoctorID,
	}
	if ev.AppointmentID != nil {
		fields["appointment_id"] = *ev.AppointmentID
	}
	if ev.Presence != "" {
		fields["presence"] = ev.Presence
	}
	n.Log.WithFields(fields).Info("event")
	return nil
}

// Recorder keeps events in memory; tests assert on it.
type Recorder struct {
	ch chan Event
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Notify(_ context.Context, ev Event) error {
	select {
	case r.ch <- ev:
	default:
	}
	return nil
}

// Events drains what has been recorded so far.
func (r *Recorder) Events() []Event {
	var out []Event
	for {
		select {
		case ev := <-r.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}
