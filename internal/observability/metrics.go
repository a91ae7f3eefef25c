package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// quality pipeline.
type Metrics struct {
	ArtifactsProcessed prometheus.Counter
	ArtifactsSkipped   prometheus.Counter // unchanged fingerprint, cache hit
	ArtifactsFailed    prometheus.Counter
	PipelineRunning    prometheus.Gauge

	MeasurementsDecoded prometheus.Counter
	MalformedRecords    prometheus.Counter
	UnindexedCoords     prometheus.Counter
	TierSelected        *prometheus.CounterVec // labels: tier={STRICT,MODERATE,PERMISSIVE,FALLBACK,NO_DATA}

	RunDuration      prometheus.Histogram
	ArtifactDuration prometheus.Histogram

	// Shared-state metrics.
	LockSkipped     prometheus.Counter
	SweepRemoved    prometheus.Counter
	SweepFreedBytes prometheus.Counter
	StoreFiles      prometheus.Gauge
	StoreBytes      prometheus.Gauge

	ResultsPublished prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ArtifactsProcessed,
		m.ArtifactsSkipped,
		m.ArtifactsFailed,
		m.PipelineRunning,
		m.MeasurementsDecoded,
		m.MalformedRecords,
		m.UnindexedCoords,
		m.TierSelected,
		m.RunDuration,
		m.ArtifactDuration,
		m.LockSkipped,
		m.SweepRemoved,
		m.SweepFreedBytes,
		m.StoreFiles,
		m.StoreBytes,
		m.ResultsPublished,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ArtifactsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tempo_etl",
			Name:      "artifacts_processed_total",
			Help:      "Source artifacts that went through the full pipeline.",
		}),
		ArtifactsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tempo_etl",
			Name:      "artifacts_skipped_total",
			Help:      "Source artifacts skipped because their fingerprint was unchanged.",
		}),
		ArtifactsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tempo_etl",
			Name:      "artifacts_failed_total",
			Help:      "Source artifacts that failed processing.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tempo_etl",
			Name:      "pipeline_running",
			Help:      "1 while a run is active, 0 between runs.",
		}),
		MeasurementsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tempo_etl",
			Name:      "measurements_decoded_total",
			Help:      "Measurement records decoded from source documents.",
		}),
		MalformedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tempo_etl",
			Name:      "malformed_records_total",
			Help:      "Records skipped for structural violations.",
		}),
		UnindexedCoords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tempo_etl",
			Name:      "unindexed_coordinates_total",
			Help:      "Measurements excluded from the spatial index for bad coordinates.",
		}),
		TierSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tempo_etl",
			Name:      "quality_tier_selected_total",
			Help:      "Classification outcomes by selected quality tier.",
		}, []string{"tier"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tempo_etl",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete pipeline run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		ArtifactDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tempo_etl",
			Name:      "artifact_duration_seconds",
			Help:      "Duration of processing one source artifact.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		LockSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tempo_etl",
			Name:      "lock_skipped_cycles_total",
			Help:      "Cycles that skipped cache persistence and sweeping because the run lock was held.",
		}),
		SweepRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tempo_etl",
			Name:      "sweep_removed_total",
			Help:      "Artifacts deleted by the retention sweeper.",
		}),
		SweepFreedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tempo_etl",
			Name:      "sweep_freed_bytes_total",
			Help:      "Bytes freed by the retention sweeper.",
		}),
		StoreFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tempo_etl",
			Name:      "store_files",
			Help:      "Files currently in the artifact store.",
		}),
		StoreBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tempo_etl",
			Name:      "store_bytes",
			Help:      "Bytes currently in the artifact store.",
		}),
		ResultsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tempo_etl",
			Name:      "results_published_total",
			Help:      "Result documents published to the sink.",
		}),
	}
}
