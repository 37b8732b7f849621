// Package geo keeps doctor locations and answers radius queries ordered by
// great-circle distance.
//
// Distances use the haversine formula on a spherical earth. That is an
// approximation (error up to ~0.5% against the WGS84 ellipsoid), adequate for
// city-scale radii but not geodesic-exact.
package geo

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
)

// EarthRadiusMeters is the IUGG mean earth radius.
const EarthRadiusMeters = 6371008.8

var ErrInvalidPoint = apperr.New(apperr.Validation, "latitude must be within [-90, 90] and longitude within [-180, 180]")

var ErrInvalidRadius = apperr.New(apperr.Validation, "radius must be positive")

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lng)
}

// Flags controls whether a doctor shows up in filtered searches.
type Flags struct {
	Verified  bool `json:"verified"`
	Online    bool `json:"online"`
	Available bool `json:"available"`
}

// Record is the searchable projection of one doctor.
type Record struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Point    Point     `json:"point"`
	Flags    Flags     `json:"flags"`
}

// Filter selects records by flag. A false field means "don't care".
type Filter struct {
	Verified  bool
	Online    bool
	Available bool
}

func (f Filter) Match(fl Flags) bool {
	if f.Verified && !fl.Verified {
		return false
	}
	if f.Online && !fl.Online {
		return false
	}
	if f.Available && !fl.Available {
		return false
	}
	return true
}

// Hit is one Nearest result.
type Hit struct {
	Record
	DistanceMeters float64 `json:"distance_meters"`
}

// Index stores Geo Records and answers proximity queries. Nearest returns
// only records within radiusMeters of p that satisfy filter, ordered by
// ascending distance and then by doctor ID.
type Index interface {
	Upsert(ctx context.Context, rec Record) error
	Remove(ctx context.Context, doctorID uuid.UUID) error
	Nearest(ctx context.Context, p Point, radiusMeters float64, filter Filter) ([]Hit, error)
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// ValidateQuery checks the arguments of Index.Nearest.
func ValidateQuery(p Point, radiusMeters float64) error {
	if !p.Valid() {
		return ErrInvalidPoint
	}
	if !(radiusMeters > 0) {
		return ErrInvalidRadius
	}
	return nil
}

// SortHits orders hits by ascending distance, then doctor ID.
func SortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceMeters != hits[j].DistanceMeters {
			return hits[i].DistanceMeters < hits[j].DistanceMeters
		}
		return hits[i].DoctorID.String() < hits[j].DoctorID.String()
	})
}
