package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/discovery"
	"github.com/hackgods/telehealth-scheduling/internal/geo"
)

// searchDoctorsHandler serves GET /v1/doctors/search.
func searchDoctorsHandler(svc *discovery.Service, log *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, field, err := parseCriteria(r.URL.Query())
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:  "invalid_query",
				Fields: map[string]string{field: err.Error()},
			})
			return
		}

		results, err := svc.Search(r.Context(), c)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		limit, offset := appointment.Page(c.Limit, c.Offset)
		writeJSON(w, http.StatusOK, ListResponse[discovery.Result]{
			Items:  results,
			Limit:  limit,
			Offset: offset,
		})
	}
}

// defaultRadiusMeters applies when a location is given without radius_m.
const defaultRadiusMeters = 5000

type queryError string

func (e queryError) Error() string { return string(e) }

// parseCriteria reads search parameters. On failure it names the offending
// parameter.
func parseCriteria(q url.Values) (discovery.Criteria, string, error) {
	c := discovery.Criteria{
		Query:          q.Get("q"),
		Specialization: q.Get("specialization"),
		SortBy:         discovery.SortKey(q.Get("sort_by")),
		SortOrder:      discovery.SortOrder(q.Get("sort_order")),
	}

	var err error
	floats := []struct {
		name string
		dst  *float64
	}{
		{"radius_m", &c.RadiusMeters},
		{"min_rating", &c.MinRating},
	}
	for _, f := range floats {
		if raw := q.Get(f.name); raw != "" {
			if *f.dst, err = strconv.ParseFloat(raw, 64); err != nil {
				return c, f.name, queryError("must be a number")
			}
		}
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"min_experience", &c.MinExperience},
		{"limit", &c.Limit},
		{"offset", &c.Offset},
	}
	for _, f := range ints {
		if raw := q.Get(f.name); raw != "" {
			if *f.dst, err = strconv.Atoi(raw); err != nil {
				return c, f.name, queryError("must be an integer")
			}
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"available_now", &c.AvailableNow},
		{"include_unverified", &c.IncludeUnverified},
	}
	for _, f := range bools {
		if raw := q.Get(f.name); raw != "" {
			if *f.dst, err = strconv.ParseBool(raw); err != nil {
				return c, f.name, queryError("must be true or false")
			}
		}
	}

	if raw := q.Get("max_fee"); raw != "" {
		fee, err := decimal.NewFromString(raw)
		if err != nil {
			return c, "max_fee", queryError("must be a decimal amount")
		}
		c.MaxFee = &fee
	}

	lat, lng := q.Get("lat"), q.Get("lng")
	switch {
	case lat == "" && lng == "":
	case lat == "" || lng == "":
		return c, "lat", queryError("lat and lng must be given together")
	default:
		var p geo.Point
		if p.Lat, err = strconv.ParseFloat(lat, 64); err != nil {
			return c, "lat", queryError("must be a number")
		}
		if p.Lng, err = strconv.ParseFloat(lng, 64); err != nil {
			return c, "lng", queryError("must be a number")
		}
		c.Near = &p
		if q.Get("radius_m") == "" {
			c.RadiusMeters = defaultRadiusMeters
		}
	}

	return c, "", nil
}
