package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/schedule"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, doctor_id, patient_id, slot_time, status, created_at, updated_at, expires_at`

// Helpers

func scanAppointment(row pgx.Row, notFound error) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.SlotTime,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		return nil, err
	}

	a.SlotTime = a.SlotTime.UTC()
	return &a, nil
}

func collectAppointments(rows pgx.Rows, err error) ([]Appointment, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows, ErrAppointmentNotFound)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

// Create relies on the partial unique index over (doctor_id, slot_time) for
// non-cancelled rows: a concurrent winner turns the insert into a no-op.
func (r *PgRepository) Create(ctx context.Context, a Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, slot_time, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, 'pending', now(), now(), $5)
		ON CONFLICT (doctor_id, slot_time) WHERE status <> 'cancelled' DO NOTHING
		RETURNING `+appointmentColumns,
		a.ID, a.DoctorID, a.PatientID, a.SlotTime, a.ExpiresAt)

	created, err := scanAppointment(row, ErrSlotTaken)
	return created, apperr.FromStore(err, "create appointment")
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	a, err := scanAppointment(row, ErrAppointmentNotFound)
	return a, apperr.FromStore(err, "load appointment")
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from)

	a, err := scanAppointment(row, ErrStatusChanged)
	return a, apperr.FromStore(err, "update appointment status")
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	out, err := collectAppointments(r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY slot_time DESC, id
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset))
	return out, apperr.FromStore(err, "list appointments by patient")
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	out, err := collectAppointments(r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY slot_time DESC, id
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset))
	return out, apperr.FromStore(err, "list appointments by doctor")
}

func (r *PgRepository) ActiveBookings(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, slot_time
		FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'cancelled'
		  AND slot_time >= $2
		  AND ($3::timestamptz IS NULL OR slot_time < $3)
		ORDER BY slot_time
	`, doctorID, from, nullableTime(to))
	if err != nil {
		return nil, apperr.FromStore(err, "load active bookings")
	}
	defer rows.Close()

	var result []schedule.Booking
	for rows.Next() {
		var b schedule.Booking
		if err := rows.Scan(&b.AppointmentID, &b.SlotTime); err != nil {
			return nil, apperr.FromStore(err, "scan active booking")
		}
		b.SlotTime = b.SlotTime.UTC()
		result = append(result, b)
	}
	return result, apperr.FromStore(rows.Err(), "load active bookings")
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]Appointment, error) {
	out, err := collectAppointments(r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND expires_at < $1
	`, now))
	return out, apperr.FromStore(err, "find expired pending appointments")
}

func (r *PgRepository) FindConfirmedBefore(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	out, err := collectAppointments(r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND slot_time < $1
	`, cutoff))
	return out, apperr.FromStore(err, "find finished appointments")
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	return apperr.FromStore(err, "insert event log")
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
