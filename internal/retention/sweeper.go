// Package retention evicts aged artifacts and their cache entries under a
// time horizon.
package retention

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/skysift/tempo-data-quality/internal/artifact"
)

// DefaultHorizon is the default maximum artifact age.
const DefaultHorizon = 7 * 24 * time.Hour

// Result summarizes one sweep.
type Result struct {
	RemovedCount int
	FreedBytes   int64
	ErrorCount   int
}

// CacheIndex is the slice of the artifact cache the sweeper needs: dropping
// entries whose files are gone.
type CacheIndex interface {
	Forget(key string)
}

// Sweeper walks artifact stores and deletes artifacts older than a horizon.
// It must only run while the caller holds the run lock, so it never races a
// concurrent run's cache writes; staged (.tmp) files are invisible to it by
// way of Store.List.
type Sweeper struct {
	stores []*artifact.Store
	cache  CacheIndex
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewSweeper creates a sweeper over the given stores. cache may be nil.
func NewSweeper(stores []*artifact.Store, cache CacheIndex, clk clockwork.Clock, logger *slog.Logger) *Sweeper {
	return &Sweeper{stores: stores, cache: cache, clock: clk, logger: logger}
}

// Sweep deletes artifacts strictly older than horizon and reports what was
// removed. The corresponding cache entry is dropped only after the file
// deletion succeeds, so the cache never claims an artifact that still
// exists was removed. Per-file I/O errors are logged and do not abort the
// sweep of remaining files.
func (s *Sweeper) Sweep(horizon time.Duration) Result {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	cutoff := s.clock.Now().Add(-horizon)

	var res Result
	for _, store := range s.stores {
		infos, err := store.List()
		if err != nil {
			s.logger.Error("sweep: list failed", "dir", store.Dir(), "error", err)
			res.ErrorCount++
			continue
		}

		for _, info := range infos {
			ts := info.Timestamp()
			if !ts.Before(cutoff) {
				continue
			}

			freed, err := store.Remove(info.Key)
			if err != nil {
				s.logger.Error("sweep: remove failed", "key", info.Key, "error", err)
				res.ErrorCount++
				continue
			}
			if s.cache != nil {
				s.cache.Forget(info.Key)
			}
			res.RemovedCount++
			res.FreedBytes += freed
			s.logger.Info("sweep: removed artifact",
				"key", info.Key, "age", s.clock.Now().Sub(ts).Round(time.Second), "freed_bytes", freed)
		}
	}
	return res
}
