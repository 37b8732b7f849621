package profile

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/geo"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const foreignKeyViolation = "23503"

// MissingDoctor turns a foreign key violation on a doctor_id column into
// ErrDoctorNotFound. Other errors are returned unchanged.
func MissingDoctor(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return ErrDoctorNotFound
	}
	return err
}

const doctorColumns = `id, name, specializations, languages, verified, rating, review_count,
	experience_years, consultation_fee::text, latitude, longitude`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var fee string
	var lat, lng *float64

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specializations,
		&d.Languages,
		&d.Verified,
		&d.Rating,
		&d.ReviewCount,
		&d.ExperienceYears,
		&fee,
		&lat,
		&lng,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.ConsultationFee, err = decimal.NewFromString(fee)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		d.Location = &geo.Point{Lat: *lat, Lng: *lng}
	}
	return &d, nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1
	`, id)
	d, err := scanDoctor(row)
	return d, apperr.FromStore(err, "load doctor")
}

func (r *PgRepository) List(ctx context.Context, f Filter) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE ($1 = '' OR EXISTS (
			SELECT 1 FROM unnest(specializations) s WHERE lower(s) = lower($1)
		))
		  AND rating >= $2
		  AND (NOT $3 OR verified)
		ORDER BY id
	`, f.Specialization, f.MinRating, f.VerifiedOnly)
	if err != nil {
		return nil, apperr.FromStore(err, "list doctors")
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, apperr.FromStore(err, "scan doctor")
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromStore(err, "list doctors")
	}
	return result, nil
}
