package availability

import (
	"context"
	"errors"

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

func scanState(row pgx.Row, notFound error) (*State, error) {
	var s State

	err := row.Scan(
		&s.DoctorID,
		&s.Presence,
		&s.Version,
		&s.ChangedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		return nil, profile.MissingDoctor(err)
	}

	return &s, nil
}

func (r *PgRepository) Get(ctx context.Context, doctorID uuid.UUID) (*State, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT doctor_id, presence, version, changed_at
		FROM availability
		WHERE doctor_id = $1
	`, doctorID)
	s, err := scanState(row, ErrStateNotFound)
	return s, apperr.FromStore(err, "load availability")
}

func (r *PgRepository) CompareAndSwap(ctx context.Context, next State, expectedVersion int64) (*State, error) {
	var row pgx.Row
	if expectedVersion == 0 {
		row = r.pool.QueryRow(ctx, `
			INSERT INTO availability (doctor_id, presence, version, changed_at)
			VALUES ($1, $2, 1, $3)
			ON CONFLICT (doctor_id) DO NOTHING
			RETURNING doctor_id, presence, version, changed_at
		`, next.DoctorID, next.Presence, next.ChangedAt)
	} else {
		row = r.pool.QueryRow(ctx, `
			UPDATE availability
			SET presence = $2,
			    version = version + 1,
			    changed_at = $3
			WHERE doctor_id = $1
			  AND version = $4
			RETURNING doctor_id, presence, version, changed_at
		`, next.DoctorID, next.Presence, next.ChangedAt, expectedVersion)
	}

	s, err := scanState(row, ErrVersionConflict)
	return s, apperr.FromStore(err, "update availability")
}
