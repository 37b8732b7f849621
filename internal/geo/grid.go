package geo

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"
)

const (
	metersPerDegreeLat = math.Pi * EarthRadiusMeters / 180

	// beyond this many cells a query scans every record instead
	maxScanCells = 4096
)

type cell struct {
	row, col int
}

// GridIndex is an in-memory Index that buckets records into cells of roughly
// cellMeters on a side (measured along a meridian). Queries visit only the
// cells overlapping the search circle's bounding box, falling back to a full
// scan when that box crosses the antimeridian, reaches a pole, or would touch
// too many cells.
type GridIndex struct {
	cellDeg float64

	mu      sync.RWMutex
	records map[uuid.UUID]Record
	cells   map[cell]map[uuid.UUID]struct{}
}

func NewGridIndex(cellMeters float64) *GridIndex {
	if cellMeters <= 0 {
		cellMeters = 5000
	}
	return &GridIndex{
		cellDeg: cellMeters / metersPerDegreeLat,
		records: make(map[uuid.UUID]Record),
		cells:   make(map[cell]map[uuid.UUID]struct{}),
	}
}

func (g *GridIndex) cellOf(p Point) cell {
	return cell{
		row: int(math.Floor(p.Lat / g.cellDeg)),
		col: int(math.Floor(p.Lng / g.cellDeg)),
	}
}

func (g *GridIndex) Upsert(_ context.Context, rec Record) error {
	if !rec.Point.Valid() {
		return ErrInvalidPoint
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.records[rec.DoctorID]; ok {
		g.unlink(old)
	}
	g.records[rec.DoctorID] = rec

	c := g.cellOf(rec.Point)
	members, ok := g.cells[c]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		g.cells[c] = members
	}
	members[rec.DoctorID] = struct{}{}
	return nil
}

func (g *GridIndex) Remove(_ context.Context, doctorID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.records[doctorID]; ok {
		g.unlink(old)
		delete(g.records, doctorID)
	}
	return nil
}

func (g *GridIndex) unlink(rec Record) {
	c := g.cellOf(rec.Point)
	if members, ok := g.cells[c]; ok {
		delete(members, rec.DoctorID)
		if len(members) == 0 {
			delete(g.cells, c)
		}
	}
}

func (g *GridIndex) Nearest(_ context.Context, p Point, radiusMeters float64, filter Filter) ([]Hit, error) {
	if err := ValidateQuery(p, radiusMeters); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var hits []Hit
	consider := func(rec Record) {
		if !filter.Match(rec.Flags) {
			return
		}
		d := Distance(p, rec.Point)
		if d <= radiusMeters {
			hits = append(hits, Hit{Record: rec, DistanceMeters: d})
		}
	}

	minCell, maxCell, ok := g.bounds(p, radiusMeters)
	if !ok {
		for _, rec := range g.records {
			consider(rec)
		}
	} else {
		for row := minCell.row; row <= maxCell.row; row++ {
			for col := minCell.col; col <= maxCell.col; col++ {
				for id := range g.cells[cell{row, col}] {
					consider(g.records[id])
				}
			}
		}
	}

	SortHits(hits)
	return hits, nil
}

// bounds returns the cell range covering the bounding box of the search
// circle, padded by one cell, or ok=false when a linear scan is required.
func (g *GridIndex) bounds(p Point, radiusMeters float64) (lo, hi cell, ok bool) {
	delta := radiusMeters / EarthRadiusMeters
	dLat := delta * 180 / math.Pi
	minLat, maxLat := p.Lat-dLat, p.Lat+dLat
	if minLat <= -90 || maxLat >= 90 {
		return cell{}, cell{}, false
	}

	// maximum longitude offset of a point at angular distance delta
	ratio := math.Sin(delta) / math.Cos(radians(p.Lat))
	if delta >= math.Pi/2 || ratio >= 1 {
		return cell{}, cell{}, false
	}
	dLng := math.Asin(ratio) * 180 / math.Pi
	minLng, maxLng := p.Lng-dLng, p.Lng+dLng
	if minLng < -180 || maxLng > 180 {
		return cell{}, cell{}, false
	}

	lo = g.cellOf(Point{Lat: minLat, Lng: minLng})
	hi = g.cellOf(Point{Lat: maxLat, Lng: maxLng})
	lo.row, lo.col = lo.row-1, lo.col-1
	hi.row, hi.col = hi.row+1, hi.col+1
	if (hi.row-lo.row+1)*(hi.col-lo.col+1) > maxScanCells {
		return cell{}, cell{}, false
	}
	return lo, hi, true
}

// Len reports the number of indexed records.
func (g *GridIndex) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}
