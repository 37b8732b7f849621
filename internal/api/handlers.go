package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/availability"
	"github.com/hackgods/telehealth-scheduling/internal/identity"
	"github.com/hackgods/telehealth-scheduling/internal/schedule"
)

type handlers struct {
	schedules    *schedule.Service
	appointments *appointment.Service
	presence     *availability.Service
	log          *logrus.Logger
	validate     *requestValidator
}

func (h *handlers) setSchedule(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}

	var req SetScheduleRequest
	if !h.validate.decode(w, r, &req) {
		return
	}

	sched, cancelled, err := h.appointments.ApplySchedule(r.Context(), doctorID, req.Slots, actorFrom(r))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, ScheduleResponse{
		Schedule:                sched,
		CancelledAppointmentIDs: cancelled,
	})
}

func (h *handlers) getSchedule(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	day, ok := dayParam(w, r)
	if !ok {
		return
	}

	slots, err := h.schedules.GetSlots(r.Context(), doctorID, day)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SlotsResponse{
		DoctorID: doctorID,
		Date:     day.Format(time.DateOnly),
		Slots:    slots,
	})
}

func (h *handlers) getOpenSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	day, ok := dayParam(w, r)
	if !ok {
		return
	}

	slots, err := h.schedules.GetOpenSlots(r.Context(), doctorID, day)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, OpenSlotsResponse{
		DoctorID: doctorID,
		Date:     day.Format(time.DateOnly),
		Slots:    slots,
	})
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !h.validate.decode(w, r, &req) {
		return
	}

	actor := actorFrom(r)
	doctorID := uuid.MustParse(req.DoctorID)
	patientID := actor.ID
	if req.PatientID != "" {
		patientID = uuid.MustParse(req.PatientID)
	}

	appt, err := h.appointments.BookSlot(r.Context(), doctorID, patientID, req.SlotTime, actor)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, appt)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.appointments.GetAppointment(r.Context(), id, actorFrom(r))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, appt)
}

// listAppointments lists by patient_id or doctor_id. Without either, it
// lists the caller's own appointments.
func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	actor := actorFrom(r)

	limit, ok := intQuery(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	offset, ok := intQuery(w, q.Get("offset"), "offset")
	if !ok {
		return
	}

	patientStr, doctorStr := q.Get("patient_id"), q.Get("doctor_id")
	if patientStr != "" && doctorStr != "" {
		writeError(w, http.StatusBadRequest, "invalid_query", "use either patient_id or doctor_id, not both")
		return
	}
	if patientStr == "" && doctorStr == "" {
		switch actor.Role {
		case identity.RoleDoctor:
			doctorStr = actor.ID.String()
		case identity.RolePatient:
			patientStr = actor.ID.String()
		default:
			writeError(w, http.StatusBadRequest, "missing_query_param", "patient_id or doctor_id is required")
			return
		}
	}

	limit, offset = appointment.Page(limit, offset)

	var (
		appointments []appointment.Appointment
		err          error
	)
	if doctorStr != "" {
		doctorID, perr := uuid.Parse(doctorStr)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		appointments, err = h.appointments.ListAppointmentsByDoctor(r.Context(), doctorID, limit, offset, actor)
	} else {
		patientID, perr := uuid.Parse(patientStr)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		appointments, err = h.appointments.ListAppointmentsByPatient(r.Context(), patientID, limit, offset, actor)
	}
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, ListResponse[appointment.Appointment]{
		Items:  appointments,
		Limit:  limit,
		Offset: offset,
	})
}

func (h *handlers) appointmentAction(action func(*http.Request, uuid.UUID, identity.Actor) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := action(r, id, actorFrom(r))
		if err != nil {
			writeServiceError(w, r, h.log, err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

func (h *handlers) cancelAppointment(r *http.Request, id uuid.UUID, actor identity.Actor) (*appointment.Appointment, error) {
	return h.appointments.Cancel(r.Context(), id, actor)
}

func (h *handlers) confirmAppointment(r *http.Request, id uuid.UUID, actor identity.Actor) (*appointment.Appointment, error) {
	return h.appointments.Confirm(r.Context(), id, actor)
}

func (h *handlers) completeAppointment(r *http.Request, id uuid.UUID, actor identity.Actor) (*appointment.Appointment, error) {
	return h.appointments.Complete(r.Context(), id, actor)
}

func (h *handlers) transitionPresence(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}

	var req PresenceRequest
	if !h.validate.decode(w, r, &req) {
		return
	}
	trigger, err := availability.ParseTrigger(req.Trigger)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	st, err := h.presence.Transition(r.Context(), doctorID, trigger, actorFrom(r))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) getPresence(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}

	st, err := h.presence.Current(r.Context(), doctorID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+camelToSnake(name), name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// dayParam reads date (YYYY-MM-DD, default today) in tz (IANA name, default
// UTC).
func dayParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	q := r.URL.Query()

	loc := time.UTC
	if tz := q.Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_tz", "tz must be an IANA time zone name")
			return time.Time{}, false
		}
		loc = l
	}

	date := q.Get("date")
	if date == "" {
		return time.Now().In(loc), true
	}
	day, err := time.ParseInLocation(time.DateOnly, date, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted YYYY-MM-DD")
		return time.Time{}, false
	}
	return day, true
}

func intQuery(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be an integer")
		return 0, false
	}
	return n, true
}

func camelToSnake(s string) string {
	out := make([]byte, 0, len(s)+2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			out = append(out, '_', c+('a'-'A'))
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
