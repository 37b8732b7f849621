package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/profile"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanSchedule(row pgx.Row, notFound error) (*Schedule, error) {
	var s Schedule

	err := row.Scan(
		&s.DoctorID,
		&s.Slots,
		&s.Version,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		return nil, profile.MissingDoctor(err)
	}

	for i := range s.Slots {
		s.Slots[i] = s.Slots[i].UTC()
	}
	return &s, nil
}

func (r *PgRepository) Get(ctx context.Context, doctorID uuid.UUID) (*Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT doctor_id, slots, version, updated_at
		FROM schedules
		WHERE doctor_id = $1
	`, doctorID)
	s, err := scanSchedule(row, ErrScheduleNotFound)
	return s, apperr.FromStore(err, "load schedule")
}

func (r *PgRepository) Replace(ctx context.Context, doctorID uuid.UUID, slots []time.Time, expectedVersion int64) (*Schedule, error) {
	var row pgx.Row
	if expectedVersion == 0 {
		row = r.pool.QueryRow(ctx, `
			INSERT INTO schedules (doctor_id, slots, version, updated_at)
			VALUES ($1, $2, 1, now())
			ON CONFLICT (doctor_id) DO NOTHING
			RETURNING doctor_id, slots, version, updated_at
		`, doctorID, slots)
	} else {
		row = r.pool.QueryRow(ctx, `
			UPDATE schedules
			SET slots = $2,
			    version = version + 1,
			    updated_at = now()
			WHERE doctor_id = $1
			  AND version = $3
			RETURNING doctor_id, slots, version, updated_at
		`, doctorID, slots, expectedVersion)
	}

	s, err := scanSchedule(row, ErrVersionConflict)
	return s, apperr.FromStore(err, "replace schedule")
}
