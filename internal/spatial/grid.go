// Package spatial partitions measurement sets into a uniform degree grid for
// sub-linear bounding-box queries.
package spatial

import (
	"math"

	"github.com/skysift/tempo-data-quality/internal/domain"
)

// DefaultCellSize is the grid resolution in degrees.
const DefaultCellSize = 1.0

// CellKey is an integer grid coordinate. Cell assignment is a pure function
// of (latitude, longitude, cell size): floor(lat/size), floor(lon/size).
// A point exactly on a cell boundary belongs to the lower-left cell.
type CellKey struct {
	Lat int
	Lon int
}

// CellFor returns the grid cell containing the given coordinate.
func CellFor(lat, lon, cellSize float64) CellKey {
	return CellKey{
		Lat: int(math.Floor(lat / cellSize)),
		Lon: int(math.Floor(lon / cellSize)),
	}
}

// GridIndex buckets positions of a backing MeasurementSet into grid cells.
// Cells hold indices only, never measurement copies, so the backing set must
// outlive the index. Absent cells are empty.
type GridIndex struct {
	set      *domain.MeasurementSet
	cellSize float64
	cells    map[CellKey][]int
	indexed  int // positions of set consumed so far
	skipped  int // measurements with unindexable coordinates
}

// New creates an empty index over set. Call Extend to index appended
// measurements, or use Build for the single-pass case.
func New(set *domain.MeasurementSet, cellSize float64) *GridIndex {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &GridIndex{
		set:      set,
		cellSize: cellSize,
		cells:    make(map[CellKey][]int),
	}
}

// Build indexes the whole set in one O(N) pass.
func Build(set *domain.MeasurementSet, cellSize float64) *GridIndex {
	g := New(set, cellSize)
	g.Extend()
	return g
}

// Extend indexes measurements appended to the backing set since the last
// call. A measurement with a non-finite or out-of-range coordinate is left
// out of the index (but stays in the set) and counted as a build warning; it
// must never corrupt a cell key.
func (g *GridIndex) Extend() {
	for i := g.indexed; i < g.set.Len(); i++ {
		m := g.set.At(i)
		if !indexable(m.Latitude, m.Longitude) {
			g.skipped++
			continue
		}
		key := CellFor(m.Latitude, m.Longitude, g.cellSize)
		g.cells[key] = append(g.cells[key], i)
	}
	g.indexed = g.set.Len()
}

func indexable(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// CellSize returns the grid resolution in degrees.
func (g *GridIndex) CellSize() float64 { return g.cellSize }

// Cells returns the number of non-empty cells.
func (g *GridIndex) Cells() int { return len(g.cells) }

// Skipped returns how many measurements were excluded from the index for
// unindexable coordinates.
func (g *GridIndex) Skipped() int { return g.skipped }

// Positions returns the indexed positions for one cell. Exposed for tests.
func (g *GridIndex) Positions(key CellKey) []int { return g.cells[key] }
