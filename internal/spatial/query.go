package spatial

import (
	"math"

	"github.com/skysift/tempo-data-quality/internal/domain"
)

// BBox is a geographic bounding box. Edges follow the half-open convention:
// the minimum edges are inclusive, the maximum edges exclusive, matching the
// floor()-based cell assignment so adjacent boxes never double-count a point.
type BBox struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// Contains reports whether a coordinate lies inside the box.
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat < b.LatMax && lon >= b.LonMin && lon < b.LonMax
}

// valid rejects inverted or non-finite boxes.
func (b BBox) valid() bool {
	for _, v := range [4]float64{b.LatMin, b.LatMax, b.LonMin, b.LonMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.LatMin < b.LatMax && b.LonMin < b.LonMax
}

// clampToDomain shrinks the box to the indexable coordinate domain. Cells
// outside [-90,90]x[-180,180] are empty by construction, so clamping cannot
// change the result, but it bounds the covering cell range for boxes far
// larger than the globe. Maximum edges keep one cell of slack so points
// exactly on the domain edge stay inside the half-open box.
func (b BBox) clampToDomain(cellSize float64) BBox {
	b.LatMin = math.Max(b.LatMin, -90)
	b.LatMax = math.Min(b.LatMax, 90+cellSize)
	b.LonMin = math.Max(b.LonMin, -180)
	b.LonMax = math.Min(b.LonMax, 180+cellSize)
	return b
}

// Query returns the measurements inside the box.
//
// Cells are a coarse pre-filter: the covering cell range is scanned and each
// candidate is re-checked against the exact box, since a cell may only
// partially overlap the query. Cost is O(K + M) for K cells touched and M
// points in them, versus O(N) for a full scan.
func (g *GridIndex) Query(box BBox) []domain.Measurement {
	if !box.valid() {
		return nil
	}
	box = box.clampToDomain(g.cellSize)

	latLo := int(math.Floor(box.LatMin / g.cellSize))
	latHi := upperCell(box.LatMax, g.cellSize)
	lonLo := int(math.Floor(box.LonMin / g.cellSize))
	lonHi := upperCell(box.LonMax, g.cellSize)

	var out []domain.Measurement
	for cl := latLo; cl <= latHi; cl++ {
		for cn := lonLo; cn <= lonHi; cn++ {
			for _, pos := range g.cells[CellKey{Lat: cl, Lon: cn}] {
				m := g.set.At(pos)
				if box.Contains(m.Latitude, m.Longitude) {
					out = append(out, m)
				}
			}
		}
	}
	return out
}

// upperCell returns the highest cell row/column a half-open maximum edge can
// reach. A maximum lying exactly on a cell boundary does not touch the cell
// above it: a box with LatMax 14 at cell size 1 covers row 13, not 14.
func upperCell(max, cellSize float64) int {
	c := max / cellSize
	f := math.Floor(c)
	if c == f {
		f--
	}
	return int(f)
}
