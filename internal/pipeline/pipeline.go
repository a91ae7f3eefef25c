// Package pipeline orchestrates one run of the quality pipeline: scan the
// artifact store, skip unchanged artifacts, classify and index the rest,
// publish results, then persist the cache and sweep aged artifacts under the
// run lock.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/skysift/tempo-data-quality/internal/artifact"
	"github.com/skysift/tempo-data-quality/internal/cache"
	"github.com/skysift/tempo-data-quality/internal/domain"
	"github.com/skysift/tempo-data-quality/internal/observability"
	"github.com/skysift/tempo-data-quality/internal/retention"
	"github.com/skysift/tempo-data-quality/internal/spatial"
)

// ResultSink publishes artifact results to the downstream serving
// collaborator. A nil sink disables publishing.
type ResultSink interface {
	PublishBatch(ctx context.Context, results []domain.ArtifactResult) error
}

// Options tunes one pipeline instance.
type Options struct {
	CellSize        float64       // spatial grid resolution, degrees
	ChunkSize       int           // streaming decode chunk, points
	OutputChunkSize int           // points per published chunk document
	Horizon         time.Duration // retention horizon
	RequestedTier   domain.QualityTier
}

func (o *Options) applyDefaults() {
	if o.CellSize <= 0 {
		o.CellSize = spatial.DefaultCellSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 10000
	}
	if o.OutputChunkSize <= 0 {
		o.OutputChunkSize = 50000
	}
	if o.Horizon <= 0 {
		o.Horizon = retention.DefaultHorizon
	}
}

// Pipeline runs the batch quality cycle over a shared artifact store.
type Pipeline struct {
	source  *artifact.Store
	chunks  *artifact.Store
	cache   *cache.Store
	lock    *artifact.RunLock
	sink    ResultSink
	catalog *Catalog
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	opts    Options
	ready   atomic.Bool
}

// New creates a Pipeline. chunks is the store chunk documents are written
// to, normally a subdirectory of source. cache and sink may be nil.
func New(source, chunks *artifact.Store, cacheStore *cache.Store, lock *artifact.RunLock,
	sink ResultSink, logger *slog.Logger, metrics *observability.Metrics,
	clk clockwork.Clock, opts Options) *Pipeline {

	opts.applyDefaults()
	return &Pipeline{
		source:  source,
		chunks:  chunks,
		cache:   cacheStore,
		lock:    lock,
		sink:    sink,
		catalog: NewCatalog(),
		logger:  logger,
		metrics: metrics,
		clock:   clk,
		opts:    opts,
	}
}

// Catalog exposes the query engine over the most recent run's output.
func (p *Pipeline) Catalog() *Catalog { return p.catalog }

// CheckReadiness returns nil once at least one run has completed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// RunLoop executes Run on a fixed interval until the context is cancelled.
// Run errors are logged, not fatal: the next cycle gets a fresh chance.
func (p *Pipeline) RunLoop(ctx context.Context, interval time.Duration) error {
	for {
		if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("pipeline run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-p.clock.After(interval):
		}
	}
}

// Run executes one complete cycle. It is safely interruptible between
// chunks: cancelling the context leaves the persisted cache untouched, so
// interrupted artifacts are simply reprocessed next run.
func (p *Pipeline) Run(ctx context.Context) error {
	start := time.Now()
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	infos, err := p.source.List()
	if err != nil {
		return fmt.Errorf("scan artifact store: %w", err)
	}
	p.logger.Info("run started", "artifacts", len(infos))

	type processed struct {
		key         string
		fingerprint string
		result      domain.ArtifactResult
	}
	var done []processed

	for _, info := range infos {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fp, err := cache.FingerprintFile(info.Path)
		if err != nil {
			p.logger.Error("fingerprint failed", "key", info.Key, "error", err)
			p.metrics.ArtifactsFailed.Inc()
			continue
		}

		if p.cache != nil && !p.cache.ShouldProcess(info.Key, fp) {
			p.logger.Debug("artifact unchanged, skipping", "key", info.Key)
			p.cache.Touch(info.Key)
			p.metrics.ArtifactsSkipped.Inc()
			continue
		}

		artifactStart := time.Now()
		result, err := p.processArtifact(ctx, info)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("artifact processing failed", "key", info.Key, "error", err)
			p.metrics.ArtifactsFailed.Inc()
			continue
		}
		p.metrics.ArtifactsProcessed.Inc()
		p.metrics.ArtifactDuration.Observe(time.Since(artifactStart).Seconds())
		done = append(done, processed{key: info.Key, fingerprint: fp, result: result})
	}

	// Publish before recording: a failed publish leaves artifacts
	// unrecorded so the next run retries them.
	published := true
	if p.sink != nil && len(done) > 0 {
		results := make([]domain.ArtifactResult, len(done))
		for i := range done {
			results[i] = done[i].result
		}
		if err := p.sink.PublishBatch(ctx, results); err != nil {
			p.logger.Error("publish results failed", "error", err, "count", len(results))
			published = false
		} else {
			p.metrics.ResultsPublished.Add(float64(len(results)))
		}
	}

	if published && p.cache != nil {
		for _, d := range done {
			p.cache.Record(d.key, d.fingerprint)
		}
	}

	p.sharedStatePhase(ctx)
	p.updateStoreGauges()

	p.metrics.RunDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)
	p.logger.Info("run finished",
		"processed", len(done),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// sharedStatePhase persists the cache and sweeps aged artifacts under the
// advisory run lock. When another run holds the lock, both are skipped for
// this cycle: losing a cache flush only costs reprocessing, never
// correctness.
func (p *Pipeline) sharedStatePhase(ctx context.Context) {
	if err := p.lock.TryAcquire(); err != nil {
		if errors.Is(err, artifact.ErrLockHeld) {
			p.logger.Warn("run lock held, skipping cache persist and sweep for this cycle")
			p.metrics.LockSkipped.Inc()
			return
		}
		p.logger.Error("run lock acquisition failed", "error", err)
		p.metrics.LockSkipped.Inc()
		return
	}
	defer func() {
		if err := p.lock.Release(); err != nil {
			p.logger.Error("run lock release failed", "error", err)
		}
	}()

	sweeper := retention.NewSweeper([]*artifact.Store{p.source, p.chunks},
		sweepIndex{cache: p.cache, catalog: p.catalog}, p.clock, p.logger)
	res := sweeper.Sweep(p.opts.Horizon)
	p.metrics.SweepRemoved.Add(float64(res.RemovedCount))
	p.metrics.SweepFreedBytes.Add(float64(res.FreedBytes))
	if res.RemovedCount > 0 || res.ErrorCount > 0 {
		p.logger.Info("sweep finished",
			"removed", res.RemovedCount, "freed_bytes", res.FreedBytes, "errors", res.ErrorCount)
	}

	if p.cache != nil {
		if err := p.cache.Persist(ctx); err != nil {
			p.logger.Error("cache persist failed, proceeding without cache for this cycle", "error", err)
		}
	}
}

// sweepIndex fans sweep evictions out to the fingerprint cache and the query
// catalog, so a swept source stops answering queries and report lookups.
type sweepIndex struct {
	cache   *cache.Store
	catalog *Catalog
}

func (s sweepIndex) Forget(key string) {
	if s.cache != nil {
		s.cache.Forget(key)
	}
	s.catalog.Drop(key)
}

func (p *Pipeline) updateStoreGauges() {
	files, bytes, err := p.source.Stats()
	if err != nil {
		p.logger.Warn("store stats failed", "error", err)
		return
	}
	p.metrics.StoreFiles.Set(float64(files))
	p.metrics.StoreBytes.Set(float64(bytes))
}
