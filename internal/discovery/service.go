package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/geo"
	"github.com/hackgods/telehealth-scheduling/internal/profile"
)

type SortKey string

const (
	SortRating     SortKey = "rating"
	SortExperience SortKey = "experience"
	SortDistance   SortKey = "distance"
)

type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

var (
	ErrDistanceNeedsLocation = apperr.New(apperr.Validation, "sorting by distance requires a location")
	ErrInvalidSort           = apperr.New(apperr.Validation, "invalid sort key or order")
)

// Criteria are the search inputs. Zero values disable a filter.
type Criteria struct {
	Query          string
	Specialization string
	Near           *geo.Point
	RadiusMeters   float64
	MinRating      float64
	MaxFee         *decimal.Decimal
	MinExperience  int
	// AvailableNow keeps only doctors who are online and not busy.
	AvailableNow      bool
	IncludeUnverified bool
	SortBy            SortKey
	SortOrder         SortOrder
	Limit             int
	Offset            int
}

type Result struct {
	profile.Doctor
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
}

var tracer = otel.Tracer("telehealth/discovery")

type Service struct {
	profiles profile.Repository
	presence PresenceSource
	index    geo.Index
	cfg      config.Config
	log      *logrus.Logger
}

func NewService(profiles profile.Repository, presence PresenceSource, index geo.Index, cfg config.Config, log *logrus.Logger) *Service {
	return &Service{
		profiles: profiles,
		presence: presence,
		index:    index,
		cfg:      cfg,
		log:      log,
	}
}

// Search filters doctors on profile fields first. With a location, the geo
// index decides membership and order (nearest first); otherwise results are
// sorted by SortBy. An empty result is not an error.
func (s *Service) Search(ctx context.Context, c Criteria) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "discovery.Search")
	defer span.End()

	if err := c.normalize(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("geo", c.Near != nil), attribute.String("sort", string(c.SortBy)))

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout.Std())
	defer cancel()

	doctors, err := s.profiles.List(ctx, profile.Filter{
		Specialization: c.Specialization,
		MinRating:      c.MinRating,
		VerifiedOnly:   !c.IncludeUnverified,
	})
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	candidates := make(map[string]profile.Doctor, len(doctors))
	for _, d := range doctors {
		if c.match(d) {
			candidates[d.ID.String()] = d
		}
	}

	var results []Result
	if c.Near != nil {
		results, err = s.nearest(ctx, c, candidates)
	} else {
		results, err = s.ranked(ctx, c, candidates)
	}
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"matched": len(results),
		"sort":    c.SortBy,
		"geo":     c.Near != nil,
	}).Debug("doctor search")

	return paginate(results, c.Limit, c.Offset), nil
}

func (s *Service) nearest(ctx context.Context, c Criteria, candidates map[string]profile.Doctor) ([]Result, error) {
	hits, err := s.index.Nearest(ctx, *c.Near, c.RadiusMeters, geo.Filter{
		Verified:  !c.IncludeUnverified,
		Online:    c.AvailableNow,
		Available: c.AvailableNow,
	})
	if err != nil {
		return nil, fmt.Errorf("nearest doctors: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		d, ok := candidates[h.DoctorID.String()]
		if !ok {
			continue
		}
		dist := h.DistanceMeters
		results = append(results, Result{Doctor: d, DistanceMeters: &dist})
	}
	return results, nil
}

func (s *Service) ranked(ctx context.Context, c Criteria, candidates map[string]profile.Doctor) ([]Result, error) {
	results := make([]Result, 0, len(candidates))
	for _, d := range candidates {
		if c.AvailableNow {
			st, err := s.presence.Current(ctx, d.ID)
			if err != nil {
				return nil, fmt.Errorf("load presence: %w", err)
			}
			if !st.Available() {
				continue
			}
		}
		results = append(results, Result{Doctor: d})
	}

	less := func(a, b Result) (bool, bool) {
		if c.SortBy == SortExperience {
			return a.ExperienceYears < b.ExperienceYears, a.ExperienceYears == b.ExperienceYears
		}
		return a.Rating < b.Rating, a.Rating == b.Rating
	}
	sort.Slice(results, func(i, j int) bool {
		lt, eq := less(results[i], results[j])
		if eq {
			return results[i].ID.String() < results[j].ID.String()
		}
		if c.SortOrder == Asc {
			return lt
		}
		return !lt
	})
	return results, nil
}

func (c *Criteria) normalize() error {
	if c.SortBy == "" {
		c.SortBy = SortRating
		if c.Near != nil {
			c.SortBy = SortDistance
		}
	}
	if c.SortOrder == "" {
		c.SortOrder = Desc
	}

	switch c.SortBy {
	case SortRating, SortExperience, SortDistance:
	default:
		return fmt.Errorf("%w: sort_by %q", ErrInvalidSort, c.SortBy)
	}
	if c.SortOrder != Asc && c.SortOrder != Desc {
		return fmt.Errorf("%w: sort_order %q", ErrInvalidSort, c.SortOrder)
	}
	if c.SortBy == SortDistance && c.Near == nil {
		return ErrDistanceNeedsLocation
	}

	if c.Near != nil {
		if err := geo.ValidateQuery(*c.Near, c.RadiusMeters); err != nil {
			return err
		}
		// distance order is the only order a geo search has
		c.SortBy, c.SortOrder = SortDistance, Asc
	}

	if c.MinRating < 0 || c.MinRating > 5 {
		return apperr.Validationf("min_rating must be within [0, 5]")
	}
	if c.MinExperience < 0 {
		return apperr.Validationf("min_experience must not be negative")
	}

	if c.Limit <= 0 {
		c.Limit = 20 // default
	}
	if c.Limit > 100 {
		c.Limit = 100 // max
	}
	if c.Offset < 0 {
		c.Offset = 0
	}
	c.Query = strings.ToLower(strings.TrimSpace(c.Query))
	return nil
}

// match applies the filters the profile store does not.
func (c Criteria) match(d profile.Doctor) bool {
	if c.MaxFee != nil && d.ConsultationFee.GreaterThan(*c.MaxFee) {
		return false
	}
	if d.ExperienceYears < c.MinExperience {
		return false
	}
	if c.Query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(d.Name), c.Query) {
		return true
	}
	for _, spec := range d.Specializations {
		if strings.Contains(strings.ToLower(spec), c.Query) {
			return true
		}
	}
	return false
}

func paginate(results []Result, limit, offset int) []Result {
	if offset >= len(results) {
		return []Result{}
	}
	results = results[offset:]
	if limit < len(results) {
		results = results[:limit]
	}
	return results
}
