package geo

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/google/uuid"
)

var kolkata = Point{Lat: 22.5726, Lng: 88.3639}

// north moves p by meters along its meridian.
func north(p Point, meters float64) Point {
	return Point{Lat: p.Lat + meters/metersPerDegreeLat, Lng: p.Lng}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b Point
		want float64
		tol  float64
	}{
		{"same point", kolkata, kolkata, 0, 1e-9},
		{"2km north", kolkata, north(kolkata, 2000), 2000, 0.01},
		// Kolkata to Delhi is ~1304 km on a sphere
		{"kolkata-delhi", kolkata, Point{Lat: 28.6139, Lng: 77.2090}, 1_304_000, 2_000},
		{"antipodal", Point{0, 0}, Point{0, 180}, math.Pi * EarthRadiusMeters, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tol {
				t.Fatalf("Distance() = %.3f, want %.3f ± %.3f", got, tt.want, tt.tol)
			}
		})
	}
}

func TestNearestRadiusScenario(t *testing.T) {
	ctx := context.Background()
	idx := NewGridIndex(5000)

	doc := uuid.New()
	if err := idx.Upsert(ctx, Record{DoctorID: doc, Point: kolkata, Flags: Flags{Verified: true, Online: true, Available: true}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	center := north(kolkata, 2000)
	filter := Filter{Verified: true, Online: true}

	hits, err := idx.Nearest(ctx, center, 5000, filter)
	if err != nil {
		t.Fatalf("nearest 5km: %v", err)
	}
	if len(hits) != 1 || hits[0].DoctorID != doc {
		t.Fatalf("expected doctor within 5km, got %+v", hits)
	}

	hits, err = idx.Nearest(ctx, center, 1000, filter)
	if err != nil {
		t.Fatalf("nearest 1km: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no doctor within 1km, got %+v", hits)
	}
}

func TestNearestFilterAndRemove(t *testing.T) {
	ctx := context.Background()
	idx := NewGridIndex(1000)

	verified := uuid.New()
	unverified := uuid.New()
	offline := uuid.New()
	_ = idx.Upsert(ctx, Record{DoctorID: verified, Point: north(kolkata, 100), Flags: Flags{Verified: true, Online: true}})
	_ = idx.Upsert(ctx, Record{DoctorID: unverified, Point: north(kolkata, 200), Flags: Flags{Online: true}})
	_ = idx.Upsert(ctx, Record{DoctorID: offline, Point: north(kolkata, 300), Flags: Flags{Verified: true}})

	hits, _ := idx.Nearest(ctx, kolkata, 1000, Filter{Verified: true, Online: true})
	if len(hits) != 1 || hits[0].DoctorID != verified {
		t.Fatalf("filter mismatch: %+v", hits)
	}

	hits, _ = idx.Nearest(ctx, kolkata, 1000, Filter{})
	if len(hits) != 3 {
		t.Fatalf("expected 3 unfiltered hits, got %d", len(hits))
	}

	// moving a record must not leave it behind in its old cell
	_ = idx.Upsert(ctx, Record{DoctorID: verified, Point: north(kolkata, 50_000), Flags: Flags{Verified: true, Online: true}})
	hits, _ = idx.Nearest(ctx, kolkata, 1000, Filter{})
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits after move, got %d", len(hits))
	}

	_ = idx.Remove(ctx, unverified)
	_ = idx.Remove(ctx, uuid.New())
	if idx.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", idx.Len())
	}
}

func TestNearestTiesBrokenByID(t *testing.T) {
	ctx := context.Background()
	idx := NewGridIndex(2000)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		_ = idx.Upsert(ctx, Record{DoctorID: id, Point: kolkata})
	}

	hits, _ := idx.Nearest(ctx, kolkata, 10, Filter{})
	if len(hits) != 3 {
		t.Fatalf("got %d hits", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i-1].DoctorID.String() > hits[i].DoctorID.String() {
			t.Fatalf("ties not ordered by id: %v", hits)
		}
	}
}

// The grid must agree with a brute-force scan everywhere, including near the
// antimeridian and the poles where it falls back to scanning.
func TestNearestMatchesLinearScan(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	centers := []Point{
		kolkata,
		{Lat: 0.01, Lng: 179.99},
		{Lat: 89.9, Lng: 10},
		{Lat: -45, Lng: -120},
	}

	for _, c := range centers {
		idx := NewGridIndex(3000)
		var all []Record
		for i := 0; i < 400; i++ {
			p := Point{
				Lat: clamp(c.Lat+(rng.Float64()-0.5)*0.8, -90, 90),
				Lng: wrap(c.Lng + (rng.Float64()-0.5)*0.8),
			}
			rec := Record{DoctorID: uuid.New(), Point: p, Flags: Flags{Verified: rng.Intn(2) == 0}}
			all = append(all, rec)
			if err := idx.Upsert(ctx, rec); err != nil {
				t.Fatalf("upsert %+v: %v", p, err)
			}
		}

		for _, radius := range []float64{500, 5_000, 20_000} {
			filter := Filter{Verified: true}
			hits, err := idx.Nearest(ctx, c, radius, filter)
			if err != nil {
				t.Fatalf("nearest: %v", err)
			}

			want := 0
			for _, rec := range all {
				if filter.Match(rec.Flags) && Distance(c, rec.Point) <= radius {
					want++
				}
			}
			if len(hits) != want {
				t.Fatalf("center %+v radius %.0f: got %d hits, want %d", c, radius, len(hits), want)
			}
			for i, h := range hits {
				if h.DistanceMeters > radius {
					t.Fatalf("hit beyond radius: %.1f > %.1f", h.DistanceMeters, radius)
				}
				if i > 0 && hits[i-1].DistanceMeters > h.DistanceMeters {
					t.Fatalf("hits not sorted by distance")
				}
			}
		}
	}
}

func TestNearestRejectsBadQuery(t *testing.T) {
	idx := NewGridIndex(1000)
	if _, err := idx.Nearest(context.Background(), Point{Lat: 91}, 100, Filter{}); err != ErrInvalidPoint {
		t.Fatalf("expected ErrInvalidPoint, got %v", err)
	}
	if _, err := idx.Nearest(context.Background(), kolkata, 0, Filter{}); err != ErrInvalidRadius {
		t.Fatalf("expected ErrInvalidRadius, got %v", err)
	}
	if err := idx.Upsert(context.Background(), Record{DoctorID: uuid.New(), Point: Point{Lng: 200}}); err != ErrInvalidPoint {
		t.Fatalf("expected ErrInvalidPoint on upsert, got %v", err)
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func wrap(lng float64) float64 {
	switch {
	case lng > 180:
		return lng - 360
	case lng < -180:
		return lng + 360
	}
	return lng
}
