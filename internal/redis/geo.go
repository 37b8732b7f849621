package redisclient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/geo"
)

const (
	geoKey      = "geo:doctors"
	geoFlagsKey = "geo:doctors:flags"

	// Redis computes GEOSEARCH distances on a slightly different sphere, so
	// candidates are fetched with some slack and filtered again locally.
	radiusSlack = 1.01
)

// GeoIndex is a geo.Index shared by every api-server instance. Redis answers
// the radius query; distances, filtering and ordering are recomputed with
// geo.Distance so results match geo.GridIndex exactly.
type GeoIndex struct {
	client *redis.Client
}

func NewGeoIndex(client *redis.Client) *GeoIndex {
	return &GeoIndex{client: client}
}

func (g *GeoIndex) Upsert(ctx context.Context, rec geo.Record) error {
	if !rec.Point.Valid() {
		return geo.ErrInvalidPoint
	}

	id := rec.DoctorID.String()
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
			Name:      id,
			Longitude: rec.Point.Lng,
			Latitude:  rec.Point.Lat,
		})
		pipe.HSet(ctx, geoFlagsKey, id, encodeFlags(rec.Flags))
		return nil
	})
	return apperr.FromStore(err, "upsert geo record")
}

func (g *GeoIndex) Remove(ctx context.Context, doctorID uuid.UUID) error {
	id := doctorID.String()
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, geoKey, id)
		pipe.HDel(ctx, geoFlagsKey, id)
		return nil
	})
	return apperr.FromStore(err, "remove geo record")
}

func (g *GeoIndex) Nearest(ctx context.Context, p geo.Point, radiusMeters float64, filter geo.Filter) ([]geo.Hit, error) {
	if err := geo.ValidateQuery(p, radiusMeters); err != nil {
		return nil, err
	}

	locs, err := g.client.GeoSearchLocation(ctx, geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusMeters*radiusSlack + 1,
			RadiusUnit: "m",
			Sort:       "ASC",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, apperr.FromStore(err, "geo search")
	}
	if len(locs) == 0 {
		return nil, nil
	}

	names := make([]string, len(locs))
	for i, l := range locs {
		names[i] = l.Name
	}
	rawFlags, err := g.client.HMGet(ctx, geoFlagsKey, names...).Result()
	if err != nil {
		return nil, apperr.FromStore(err, "load geo flags")
	}

	hits := make([]geo.Hit, 0, len(locs))
	for i, l := range locs {
		id, err := uuid.Parse(l.Name)
		if err != nil {
			continue
		}
		s, _ := rawFlags[i].(string)
		flags := decodeFlags(s)
		if !filter.Match(flags) {
			continue
		}
		pt := geo.Point{Lat: l.Latitude, Lng: l.Longitude}
		d := geo.Distance(p, pt)
		if d > radiusMeters {
			continue
		}
		hits = append(hits, geo.Hit{
			Record:         geo.Record{DoctorID: id, Point: pt, Flags: flags},
			DistanceMeters: d,
		})
	}

	geo.SortHits(hits)
	return hits, nil
}

func encodeFlags(f geo.Flags) string {
	return fmt.Sprintf("%d%d%d", b2i(f.Verified), b2i(f.Online), b2i(f.Available))
}

func decodeFlags(s string) geo.Flags {
	if len(s) != 3 {
		return geo.Flags{}
	}
	return geo.Flags{
		Verified:  s[0] == '1',
		Online:    s[1] == '1',
		Available: s[2] == '1',
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
