package spatial_test

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysift/tempo-data-quality/internal/domain"
	"github.com/skysift/tempo-data-quality/internal/spatial"
)

func makeSet(coords ...[2]float64) *domain.MeasurementSet {
	set := domain.NewMeasurementSet(domain.SetMetadata{SourceKey: "test.json", Pollutant: domain.PollutantNO2})
	for i, c := range coords {
		set.Append(domain.Measurement{
			Latitude:    c[0],
			Longitude:   c[1],
			Value:       float64(i + 1),
			QualityFlag: 0.9,
			Timestamp:   time.Date(2025, 10, 4, 15, 24, 7, 0, time.UTC),
			Pollutant:   domain.PollutantNO2,
		})
	}
	return set
}

func TestCellFor(t *testing.T) {
	assert.Equal(t, spatial.CellKey{Lat: 13, Lon: -90}, spatial.CellFor(13.7, -89.2, 1.0))
	assert.Equal(t, spatial.CellKey{Lat: 13, Lon: -90}, spatial.CellFor(13.0, -90.0, 1.0),
		"a point exactly on a boundary belongs to the lower-left cell")
	assert.Equal(t, spatial.CellKey{Lat: -1, Lon: -1}, spatial.CellFor(-0.5, -0.5, 1.0))
	assert.Equal(t, spatial.CellKey{Lat: 0, Lon: 0}, spatial.CellFor(0.0, 0.0, 1.0))
	assert.Equal(t, spatial.CellKey{Lat: 27, Lon: -179}, spatial.CellFor(13.7, -89.2, 0.5))
}

func TestCellFor_IsDeterministic(t *testing.T) {
	for _, c := range [][2]float64{{13.7, -89.2}, {-45.0, 170.3}, {0.0, 0.0}, {89.9999, -179.9999}} {
		first := spatial.CellFor(c[0], c[1], 1.0)
		second := spatial.CellFor(c[0], c[1], 1.0)
		assert.Equal(t, first, second)
	}
}

func TestBuild_AssignsPositionsNotCopies(t *testing.T) {
	set := makeSet([2]float64{13.5, -89.5}, [2]float64{13.5, -89.4}, [2]float64{20.5, 10.5})
	g := spatial.Build(set, 1.0)

	assert.Equal(t, 2, g.Cells())
	assert.Equal(t, []int{0, 1}, g.Positions(spatial.CellKey{Lat: 13, Lon: -90}))
	assert.Equal(t, []int{2}, g.Positions(spatial.CellKey{Lat: 20, Lon: 10}))
	assert.Empty(t, g.Positions(spatial.CellKey{Lat: 0, Lon: 0}), "absent cells are empty")
}

func TestBuild_SkipsUnindexableCoordinates(t *testing.T) {
	set := makeSet(
		[2]float64{34.0, -118.0},
		[2]float64{95.0, -118.0},
		[2]float64{34.0, -200.0},
		[2]float64{math.NaN(), -118.0},
		[2]float64{34.0, math.Inf(1)},
	)
	g := spatial.Build(set, 1.0)

	assert.Equal(t, 4, g.Skipped())
	assert.Equal(t, 1, g.Cells())
	assert.Equal(t, 5, set.Len(), "skipped points stay in the backing set")
}

func TestExtend_IsIncremental(t *testing.T) {
	set := makeSet([2]float64{34.5, -118.5})
	g := spatial.New(set, 1.0)
	g.Extend()
	require.Equal(t, 1, g.Cells())

	set.Append(domain.Measurement{Latitude: 40.5, Longitude: -74.5, QualityFlag: 0.9})
	g.Extend()

	assert.Equal(t, 2, g.Cells())
	assert.Equal(t, []int{0}, g.Positions(spatial.CellKey{Lat: 34, Lon: -119}))
	assert.Equal(t, []int{1}, g.Positions(spatial.CellKey{Lat: 40, Lon: -75}))
}

func TestQuery_BoundaryBoxTouchesOnlyLowerRow(t *testing.T) {
	// A box spanning latitude 13..14 at cell size 1 covers row 13 only: the
	// maximum edge is exclusive.
	set := makeSet(
		[2]float64{13.2, -89.5}, // row 13
		[2]float64{14.0, -89.5}, // on the max edge, excluded
		[2]float64{13.999, -89.5},
		[2]float64{12.999, -89.5}, // below the min edge
	)
	g := spatial.Build(set, 1.0)

	got := g.Query(spatial.BBox{LatMin: 13, LatMax: 14, LonMin: -90, LonMax: -87})
	require.Len(t, got, 2)
	for _, m := range got {
		assert.GreaterOrEqual(t, m.Latitude, 13.0)
		assert.Less(t, m.Latitude, 14.0)
	}
}

func TestQuery_MinEdgeIsInclusive(t *testing.T) {
	set := makeSet([2]float64{13.0, -90.0})
	g := spatial.Build(set, 1.0)

	got := g.Query(spatial.BBox{LatMin: 13, LatMax: 14, LonMin: -90, LonMax: -89})
	assert.Len(t, got, 1)
}

func TestQuery_MatchesLinearScan(t *testing.T) {
	coords := [][2]float64{
		{13.0, -90.0}, {13.5, -89.5}, {13.999, -88.001}, {14.0, -89.0},
		{12.999, -89.5}, {-45.2, 170.1}, {0.0, 0.0}, {-0.001, -0.001},
		{34.7, -118.3}, {34.0, -118.0}, {89.9, 179.9}, {-89.9, -179.9},
	}
	set := makeSet(coords...)
	g := spatial.Build(set, 1.0)

	boxes := []spatial.BBox{
		{LatMin: 13, LatMax: 14, LonMin: -90, LonMax: -88},
		{LatMin: -90, LatMax: 90.001, LonMin: -180, LonMax: 180.001},
		{LatMin: -1, LatMax: 1, LonMin: -1, LonMax: 1},
		{LatMin: 34, LatMax: 35, LonMin: -119, LonMax: -118},
	}
	for _, box := range boxes {
		var want []float64
		for _, m := range set.Measurements {
			if box.Contains(m.Latitude, m.Longitude) {
				want = append(want, m.Value)
			}
		}

		var got []float64
		for _, m := range g.Query(box) {
			got = append(got, m.Value)
		}

		sort.Float64s(want)
		sort.Float64s(got)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("query %+v mismatch (-want +got):\n%s", box, diff)
		}
	}
}

func TestQuery_ClampsToGeographicDomain(t *testing.T) {
	// A box far larger than the globe must not scan cells outside the
	// indexable domain: unclamped, a 2e7-degree box covers ~4e14 cells and
	// the query never returns.
	set := makeSet(
		[2]float64{34.5, -118.5},
		[2]float64{90.0, 180.0}, // domain edge, still indexable
		[2]float64{-90.0, -180.0},
	)
	g := spatial.Build(set, 1.0)

	done := make(chan []domain.Measurement, 1)
	go func() { done <- g.Query(spatial.BBox{LatMin: -1e7, LatMax: 1e7, LonMin: -1e7, LonMax: 1e7}) }()

	select {
	case got := <-done:
		assert.Len(t, got, 3, "a box covering the whole domain returns every indexed point")
	case <-time.After(5 * time.Second):
		t.Fatal("query over an oversized box did not return")
	}

	assert.Empty(t, g.Query(spatial.BBox{LatMin: 91, LatMax: 1e7, LonMin: -1e7, LonMax: 1e7}),
		"a box entirely outside the domain holds no points")
}

func TestQuery_InvalidBoxes(t *testing.T) {
	set := makeSet([2]float64{34.5, -118.5})
	g := spatial.Build(set, 1.0)

	assert.Nil(t, g.Query(spatial.BBox{LatMin: 14, LatMax: 13, LonMin: -90, LonMax: -89}), "inverted latitude")
	assert.Nil(t, g.Query(spatial.BBox{LatMin: 13, LatMax: 14, LonMin: -89, LonMax: -90}), "inverted longitude")
	assert.Nil(t, g.Query(spatial.BBox{LatMin: math.NaN(), LatMax: 14, LonMin: -90, LonMax: -89}))
	assert.Nil(t, g.Query(spatial.BBox{LatMin: 13, LatMax: math.Inf(1), LonMin: -90, LonMax: -89}))
	assert.Nil(t, g.Query(spatial.BBox{LatMin: 13, LatMax: 13, LonMin: -90, LonMax: -89}), "zero-area box")
}

func TestQuery_FractionalCellSize(t *testing.T) {
	set := makeSet([2]float64{13.2, -89.7}, [2]float64{13.3, -89.1})
	g := spatial.Build(set, 0.25)

	got := g.Query(spatial.BBox{LatMin: 13.0, LatMax: 13.25, LonMin: -90, LonMax: -89.5})
	require.Len(t, got, 1)
	assert.InEpsilon(t, 13.2, got[0].Latitude, 0.0001)
}
