package pipeline

import (
	"sort"
	"sync"

	"github.com/skysift/tempo-data-quality/internal/domain"
	"github.com/skysift/tempo-data-quality/internal/spatial"
)

// catalogEntry pairs a filtered set with its spatial index and the quality
// report that produced it.
type catalogEntry struct {
	set    *domain.MeasurementSet
	index  *spatial.GridIndex
	report domain.QualityReport
}

// Catalog holds the latest classified set per source artifact and answers
// bounding-box queries across all of them. Entries are replaced wholesale on
// reprocessing; readers holding results from a previous entry keep a valid
// snapshot since sets are never mutated after publication.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]catalogEntry
}

func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]catalogEntry)}
}

// Update installs the classified set for one source artifact.
func (c *Catalog) Update(key string, set *domain.MeasurementSet, index *spatial.GridIndex, report domain.QualityReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = catalogEntry{set: set, index: index, report: report}
}

// Drop removes a source artifact's entry, e.g. after retention deleted it.
func (c *Catalog) Drop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Report returns the quality report for one source artifact.
func (c *Catalog) Report(key string) (domain.QualityReport, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e.report, ok
}

// Keys returns the source keys currently catalogued, sorted.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Query returns all catalogued measurements inside the bounding box,
// visiting sources in key order.
func (c *Catalog) Query(box spatial.BBox) []domain.Measurement {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.Measurement
	for _, k := range keys {
		out = append(out, c.entries[k].index.Query(box)...)
	}
	return out
}
