// Package profile reads Doctor Profiles owned by the profile service. The
// scheduling core never writes them.
package profile

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/geo"
)

var ErrDoctorNotFound = apperr.New(apperr.NotFound, "doctor not found")

type Doctor struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Specializations []string        `json:"specializations"`
	Languages       []string        `json:"languages,omitempty"`
	Verified        bool            `json:"verified"`
	Rating          float64         `json:"rating"`
	ReviewCount     int             `json:"review_count"`
	ExperienceYears int             `json:"experience_years"`
	ConsultationFee decimal.Decimal `json:"consultation_fee"`
	Location        *geo.Point      `json:"location,omitempty"`
}

// HasSpecialization matches case-insensitively.
func (d Doctor) HasSpecialization(spec string) bool {
	for _, s := range d.Specializations {
		if strings.EqualFold(s, spec) {
			return true
		}
	}
	return false
}

// Filter narrows List on the store side. Zero values disable a condition.
type Filter struct {
	Specialization string
	MinRating      float64
	VerifiedOnly   bool
}

type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Doctor, error)
	List(ctx context.Context, f Filter) ([]Doctor, error)
}
