package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysift/tempo-data-quality/internal/artifact"
	"github.com/skysift/tempo-data-quality/internal/cache"
	"github.com/skysift/tempo-data-quality/internal/domain"
	"github.com/skysift/tempo-data-quality/internal/observability"
	"github.com/skysift/tempo-data-quality/internal/pipeline"
	"github.com/skysift/tempo-data-quality/internal/spatial"
)

// --- mocks ---

type mockSink struct {
	batches [][]domain.ArtifactResult
	err     error
}

func (m *mockSink) PublishBatch(_ context.Context, results []domain.ArtifactResult) error {
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, results)
	return nil
}

func (m *mockSink) results() []domain.ArtifactResult {
	var all []domain.ArtifactResult
	for _, b := range m.batches {
		all = append(all, b...)
	}
	return all
}

// --- harness ---

type harness struct {
	pipeline *pipeline.Pipeline
	source   *artifact.Store
	chunks   *artifact.Store
	cache    *cache.Store
	sink     *mockSink
	clock    *clockwork.FakeClock
	lockPath string
}

func newHarness(t *testing.T, opts pipeline.Options) *harness {
	t.Helper()

	dir := t.TempDir()
	source, err := artifact.NewStore(dir)
	require.NoError(t, err)
	chunks, err := source.Sub("chunks")
	require.NoError(t, err)

	clk := clockwork.NewFakeClockAt(time.Date(2025, 10, 5, 12, 0, 0, 0, time.UTC))
	cacheStore, err := cache.Open(filepath.Join(t.TempDir(), "index.db"), clk)
	require.NoError(t, err)
	t.Cleanup(func() { cacheStore.Close() })

	lockPath := filepath.Join(dir, ".pipeline.lock")
	lock := artifact.NewRunLock(lockPath, artifact.DefaultLockStaleAfter, clk)
	sink := &mockSink{}

	p := pipeline.New(source, chunks, cacheStore, lock, sink,
		slog.Default(), observability.NewMetricsForTesting(), clk, opts)

	return &harness{
		pipeline: p,
		source:   source,
		chunks:   chunks,
		cache:    cacheStore,
		sink:     sink,
		clock:    clk,
		lockPath: lockPath,
	}
}

type point struct {
	lat, lon, value, qf float64
}

func writeDocument(t *testing.T, store *artifact.Store, key string, points []point) {
	t.Helper()

	measurements := make([]map[string]any, len(points))
	for i, p := range points {
		measurements[i] = map[string]any{
			"latitude":     p.lat,
			"longitude":    p.lon,
			"value":        p.value,
			"quality_flag": p.qf,
			"timestamp":    "2025-10-04T15:24:07Z",
		}
	}
	doc := map[string]any{
		"metadata": map[string]any{
			"source_file": key,
			"pollutant":   "NO2",
			"point_count": len(points),
		},
		"measurements": measurements,
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(key), data, 0o644))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	h := newHarness(t, pipeline.Options{})
	writeDocument(t, h.source, "SURFACE_NO2_20251004T152407Z_S005G09.json", []point{
		{34.0, -118.2, 12.5, 0.9},
		{34.1, -118.3, 10.0, 0.8},
		{34.2, -118.1, 9.5, 0.6},
		{35.0, -117.9, 8.0, 0.3},
		{35.5, -117.5, 7.2, 0.1},
	})

	require.NoError(t, h.pipeline.Run(context.Background()))

	results := h.sink.results()
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, domain.TierModerate, r.Quality.TierUsed)
	assert.Equal(t, 3, r.Quality.ValidCount)
	assert.Equal(t, 5, r.Quality.TotalCount)
	assert.Equal(t, domain.ReliabilityGood, r.Quality.Reliability)
	assert.False(t, r.Quality.FallbackUsed)
	require.NotNil(t, r.Statistics)
	assert.Equal(t, 3, r.Statistics.Count)
	assert.InEpsilon(t, 9.5, r.Statistics.Min, 0.0001)
	assert.InEpsilon(t, 12.5, r.Statistics.Max, 0.0001)

	require.Len(t, r.ChunkKeys, 1)
	assert.True(t, h.chunks.Exists(r.ChunkKeys[0]))

	assert.NoError(t, h.pipeline.CheckReadiness(context.Background()))
	_, recorded := h.cache.Lookup("SURFACE_NO2_20251004T152407Z_S005G09.json")
	assert.True(t, recorded)
}

func TestPipeline_Run_SkipsUnchangedArtifact(t *testing.T) {
	h := newHarness(t, pipeline.Options{})
	writeDocument(t, h.source, "SURFACE_NO2_20251004T152407Z_S005G09.json", []point{
		{34.0, -118.2, 12.5, 0.9},
	})

	require.NoError(t, h.pipeline.Run(context.Background()))
	require.NoError(t, h.pipeline.Run(context.Background()))

	assert.Len(t, h.sink.results(), 1)
}

func TestPipeline_Run_ReprocessesChangedArtifact(t *testing.T) {
	h := newHarness(t, pipeline.Options{})
	key := "SURFACE_NO2_20251004T152407Z_S005G09.json"
	writeDocument(t, h.source, key, []point{{34.0, -118.2, 12.5, 0.9}})
	require.NoError(t, h.pipeline.Run(context.Background()))

	writeDocument(t, h.source, key, []point{
		{34.0, -118.2, 12.5, 0.9},
		{34.1, -118.3, 11.0, 0.8},
	})
	require.NoError(t, h.pipeline.Run(context.Background()))

	results := h.sink.results()
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[1].Quality.ValidCount)
}

func TestPipeline_Run_PublishFailureRetriesNextRun(t *testing.T) {
	h := newHarness(t, pipeline.Options{})
	key := "SURFACE_NO2_20251004T152407Z_S005G09.json"
	writeDocument(t, h.source, key, []point{{34.0, -118.2, 12.5, 0.9}})

	h.sink.err = errors.New("broker unavailable")
	require.NoError(t, h.pipeline.Run(context.Background()))
	_, recorded := h.cache.Lookup(key)
	assert.False(t, recorded, "failed publish must not mark the artifact processed")

	h.sink.err = nil
	require.NoError(t, h.pipeline.Run(context.Background()))
	assert.Len(t, h.sink.results(), 1)
	_, recorded = h.cache.Lookup(key)
	assert.True(t, recorded)
}

func TestPipeline_Run_ExplicitStrictTierMayBeEmpty(t *testing.T) {
	h := newHarness(t, pipeline.Options{RequestedTier: domain.TierStrict})
	writeDocument(t, h.source, "SURFACE_O3_20251004T152407Z_S012G07.json", []point{
		{34.0, -118.2, 12.5, 0.6},
		{34.1, -118.3, 10.0, 0.4},
	})

	require.NoError(t, h.pipeline.Run(context.Background()))

	results := h.sink.results()
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, domain.TierStrict, r.Quality.TierUsed)
	assert.Equal(t, 0, r.Quality.ValidCount)
	assert.Equal(t, domain.ReliabilityNone, r.Quality.Reliability)
	assert.False(t, r.Quality.FallbackUsed, "explicit tier never falls back")
	assert.Nil(t, r.Statistics)
}

func TestPipeline_Run_FallbackCarriesWarning(t *testing.T) {
	h := newHarness(t, pipeline.Options{})
	writeDocument(t, h.source, "SURFACE_NO2_20251004T152407Z_S006G01.json", []point{
		{34.0, -118.2, 12.5, 0.0},
		{34.1, -118.3, 10.0, 0.0},
	})

	require.NoError(t, h.pipeline.Run(context.Background()))

	results := h.sink.results()
	require.Len(t, results, 1)
	assert.Equal(t, domain.TierFallback, results[0].Quality.TierUsed)
	assert.True(t, results[0].Quality.FallbackUsed)
	assert.Equal(t, domain.FallbackWarning, results[0].Quality.Warning)
	assert.Equal(t, 2, results[0].Quality.ValidCount)
}

func TestPipeline_Run_MalformedDocumentFails(t *testing.T) {
	h := newHarness(t, pipeline.Options{})
	key := "SURFACE_NO2_20251004T152407Z_S007G02.json"
	doc := `{"metadata":{"pollutant":"NO2"},"measurements":[` +
		`{"latitude":34.0,"longitude":-118.2,"value":1.0,"quality_flag":0.9,"timestamp":"2025-10-04T15:24:07Z"},` +
		`{"latitude":34.1,"longitude":-118.3},` +
		`{"longitude":-118.4,"value":2.0}]}`
	require.NoError(t, os.WriteFile(h.source.Path(key), []byte(doc), 0o644))

	require.NoError(t, h.pipeline.Run(context.Background()))

	assert.Empty(t, h.sink.results())
	_, recorded := h.cache.Lookup(key)
	assert.False(t, recorded)
}

func TestPipeline_Run_ChunkedOutput(t *testing.T) {
	h := newHarness(t, pipeline.Options{OutputChunkSize: 2})
	var pts []point
	for i := 0; i < 5; i++ {
		pts = append(pts, point{34.0 + float64(i)*0.1, -118.0, 10.0, 0.9})
	}
	writeDocument(t, h.source, "SURFACE_NO2_20251004T152407Z_S008G03.json", pts)

	require.NoError(t, h.pipeline.Run(context.Background()))

	results := h.sink.results()
	require.Len(t, results, 1)
	require.Len(t, results[0].ChunkKeys, 3)

	r, err := h.chunks.Open(results[0].ChunkKeys[2])
	require.NoError(t, err)
	defer r.Close()
	var chunk struct {
		Metadata domain.DocumentMetadata `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(r).Decode(&chunk))
	require.NotNil(t, chunk.Metadata.ChunkInfo)
	assert.Equal(t, 3, chunk.Metadata.ChunkInfo.ChunkNumber)
	assert.Equal(t, 3, chunk.Metadata.ChunkInfo.TotalChunks)
	assert.Equal(t, 1, chunk.Metadata.ChunkInfo.MeasurementsInChunk)
	assert.Equal(t, 4, chunk.Metadata.ChunkInfo.StartIndex)
	assert.Equal(t, 5, chunk.Metadata.ChunkInfo.EndIndex)
}

func TestPipeline_Run_SweepRemovesAgedArtifacts(t *testing.T) {
	h := newHarness(t, pipeline.Options{})
	oldKey := "SURFACE_NO2_20250101T000000Z_S001G01.json"
	writeDocument(t, h.source, oldKey, []point{{34.0, -118.2, 12.5, 0.9}})

	require.NoError(t, h.pipeline.Run(context.Background()))

	assert.False(t, h.source.Exists(oldKey), "artifact older than the horizon must be swept")
	_, recorded := h.cache.Lookup(oldKey)
	assert.False(t, recorded, "sweep must forget the cache entry after deleting the file")

	_, ok := h.pipeline.Catalog().Report(oldKey)
	assert.False(t, ok, "sweep must drop the catalog entry with the file")
	assert.Empty(t, h.pipeline.Catalog().Query(spatial.BBox{LatMin: 34, LatMax: 35, LonMin: -119, LonMax: -118}),
		"swept sources stop answering queries")
}

func TestPipeline_Run_LockHeldSkipsSweep(t *testing.T) {
	h := newHarness(t, pipeline.Options{})
	oldKey := "SURFACE_NO2_20250101T000000Z_S001G01.json"
	writeDocument(t, h.source, oldKey, []point{{34.0, -118.2, 12.5, 0.9}})
	require.NoError(t, os.WriteFile(h.lockPath, []byte("4242\n"), 0o644))

	require.NoError(t, h.pipeline.Run(context.Background()))

	assert.True(t, h.source.Exists(oldKey), "sweep must be skipped while another run holds the lock")
	assert.Len(t, h.sink.results(), 1, "classification itself proceeds regardless of the lock")
}

func TestPipeline_Run_CatalogAnswersQueries(t *testing.T) {
	h := newHarness(t, pipeline.Options{})
	writeDocument(t, h.source, "SURFACE_NO2_20251004T152407Z_S005G09.json", []point{
		{34.2, -118.1, 12.5, 0.9},
		{40.7, -74.0, 10.0, 0.8},
	})

	require.NoError(t, h.pipeline.Run(context.Background()))

	got := h.pipeline.Catalog().Query(spatial.BBox{LatMin: 34, LatMax: 35, LonMin: -119, LonMax: -118})
	require.Len(t, got, 1)
	assert.InEpsilon(t, 34.2, got[0].Latitude, 0.0001)

	report, ok := h.pipeline.Catalog().Report("SURFACE_NO2_20251004T152407Z_S005G09.json")
	require.True(t, ok)
	assert.Equal(t, domain.TierModerate, report.TierUsed)
}

func TestPipeline_Run_EmptyStore(t *testing.T) {
	h := newHarness(t, pipeline.Options{})
	require.NoError(t, h.pipeline.Run(context.Background()))
	assert.Empty(t, h.sink.results())
	assert.NoError(t, h.pipeline.CheckReadiness(context.Background()))
}

func TestPipeline_RunLoop_StopsOnCancel(t *testing.T) {
	h := newHarness(t, pipeline.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- h.pipeline.RunLoop(ctx, time.Hour) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunLoop did not stop after cancellation")
	}
}

func TestPipeline_CheckReadiness_BeforeFirstRun(t *testing.T) {
	h := newHarness(t, pipeline.Options{})
	assert.Error(t, h.pipeline.CheckReadiness(context.Background()))
}
