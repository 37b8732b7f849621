package availability

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/profile"
)

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func TestScanStateUnknownDoctor(t *testing.T) {
	fk := &pgconn.PgError{Code: "23503", ConstraintName: "availability_doctor_id_fkey"}

	_, err := scanState(errRow{err: fk}, ErrVersionConflict)
	err = apperr.FromStore(err, "update availability")
	if !errors.Is(err, profile.ErrDoctorNotFound) || !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected doctor not found, got %v", err)
	}
}
