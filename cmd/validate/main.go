// Command validate performs end-to-end integrity checks on a measurement
// document and, optionally, the chunk documents produced from it. It verifies
// document structure, quality classification, spatial index consistency, and
// value statistics.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -doc output/SURFACE_NO2_20251004T152407Z_S005G09.json \
//	  -chunk-dir output/chunks
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/skysift/tempo-data-quality/internal/domain"
	"github.com/skysift/tempo-data-quality/internal/spatial"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	docPath := flag.String("doc", "", "path to a measurement document")
	chunkDir := flag.String("chunk-dir", "", "optional directory holding chunk documents for the same source")
	cellSize := flag.Float64("cell-size", spatial.DefaultCellSize, "spatial grid cell size in degrees")
	flag.Parse()

	if *docPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*docPath, *chunkDir, *cellSize); code != 0 {
		os.Exit(code)
	}
}

func run(docPath, chunkDir string, cellSize float64) int {
	fmt.Println("=== Measurement Document Integrity Validation ===")
	fmt.Println()

	f, err := os.Open(docPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open document: %v\n", err)
		return 1
	}
	defer f.Close()

	key := filepath.Base(docPath)
	set, stats, err := domain.ReadDocument(f, key, 10000)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: decode document: %v\n", err)
		return 1
	}

	filtered, report := domain.Classify(set)
	index := spatial.Build(filtered, cellSize)

	phases := []*phase{
		validateStructure(set, stats),
		validateClassification(set, filtered, report),
		validateSpatialIndex(filtered, index, cellSize),
		validateStatistics(filtered),
	}
	if chunkDir != "" {
		phases = append(phases, validateChunks(chunkDir, key, filtered))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-44s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d decoded, %d malformed, %d accepted (%s), %d indexed cells\n",
		stats.Records, stats.Malformed, filtered.Len(), report.TierUsed, index.Cells())

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Document Structure ──

func validateStructure(set *domain.MeasurementSet, stats domain.DecodeStats) *phase {
	p := &phase{name: "Phase 1: Document Structure"}

	if stats.Records == 0 {
		p.errorf("document contains no records")
	}
	if stats.Malformed > 0 {
		p.errorf("%d of %d records are malformed", stats.Malformed, stats.Records)
	}
	if set.Metadata.Pollutant == "" {
		p.errorf("metadata is missing a recognized pollutant")
	}
	for i, m := range set.Measurements {
		if err := domain.ValidateRecord(m); err != nil {
			p.errorf("record %d: %v", i, err)
		}
	}
	return p
}

// ── Phase 2: Quality Classification ──

func validateClassification(set, filtered *domain.MeasurementSet, report domain.QualityReport) *phase {
	p := &phase{name: "Phase 2: Quality Classification"}

	if report.ValidCount != filtered.Len() {
		p.errorf("report claims %d valid, filtered set holds %d", report.ValidCount, filtered.Len())
	}
	if report.TotalCount != set.Len() {
		p.errorf("report claims %d total, set holds %d", report.TotalCount, set.Len())
	}
	for i, m := range filtered.Measurements {
		if !report.TierUsed.Accepts(m.QualityFlag) {
			p.errorf("filtered record %d: quality_flag %g fails tier %s", i, m.QualityFlag, report.TierUsed)
		}
	}
	if report.FallbackUsed && report.Warning == "" {
		p.errorf("fallback was used but no warning is attached")
	}

	d := report.Distribution
	if sum := d.Excellent + d.Good + d.Fair + d.Poor; sum != set.Len() {
		p.errorf("quality distribution sums to %d, set holds %d", sum, set.Len())
	}
	return p
}

// ── Phase 3: Spatial Index ──

func validateSpatialIndex(filtered *domain.MeasurementSet, index *spatial.GridIndex, cellSize float64) *phase {
	p := &phase{name: "Phase 3: Spatial Index"}

	all := index.Query(spatial.BBox{LatMin: -90, LatMax: 90.000001, LonMin: -180, LonMax: 180.000001})
	indexed := len(all)

	if indexed+index.Skipped() != filtered.Len() {
		p.errorf("index holds %d points and skipped %d, set holds %d",
			indexed, index.Skipped(), filtered.Len())
	}

	for i, m := range filtered.Measurements {
		key := spatial.CellFor(m.Latitude, m.Longitude, cellSize)
		again := spatial.CellFor(m.Latitude, m.Longitude, cellSize)
		if key != again {
			p.errorf("record %d: cell assignment is not deterministic", i)
		}
	}
	return p
}

// ── Phase 4: Value Statistics ──

func validateStatistics(filtered *domain.MeasurementSet) *phase {
	p := &phase{name: "Phase 4: Value Statistics"}

	stats := domain.Summarize(filtered)
	if filtered.Len() == 0 {
		if stats != nil {
			p.errorf("statistics present for an empty set")
		}
		return p
	}
	if stats == nil {
		p.errorf("statistics missing for a non-empty set")
		return p
	}

	if stats.Count != filtered.Len() {
		p.errorf("statistics count %d, set holds %d", stats.Count, filtered.Len())
	}
	for i, m := range filtered.Measurements {
		if m.Value < stats.Min || m.Value > stats.Max {
			p.errorf("record %d: value %g outside reported [%g, %g]", i, m.Value, stats.Min, stats.Max)
		}
	}
	if stats.Mean < stats.Min || stats.Mean > stats.Max {
		p.errorf("mean %g outside [%g, %g]", stats.Mean, stats.Min, stats.Max)
	}
	return p
}

// ── Phase 5: Chunk Documents ──

func validateChunks(chunkDir, sourceKey string, filtered *domain.MeasurementSet) *phase {
	p := &phase{name: "Phase 5: Chunk Documents"}

	base := strings.TrimSuffix(sourceKey, ".json")
	entries, err := os.ReadDir(chunkDir)
	if err != nil {
		p.errorf("read chunk dir: %v", err)
		return p
	}

	total := 0
	seen := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, base+"_chunk_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		seen++

		var doc struct {
			Metadata domain.DocumentMetadata `json:"metadata"`
		}
		data, err := os.ReadFile(filepath.Join(chunkDir, name))
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		if doc.Metadata.ChunkInfo == nil {
			p.errorf("%s: missing chunk_info", name)
			continue
		}
		ci := doc.Metadata.ChunkInfo
		if ci.EndIndex-ci.StartIndex != ci.MeasurementsInChunk {
			p.errorf("%s: chunk_info indices span %d but claims %d measurements",
				name, ci.EndIndex-ci.StartIndex, ci.MeasurementsInChunk)
		}
		total += ci.MeasurementsInChunk
	}

	if seen == 0 {
		p.errorf("no chunk documents found for %s", sourceKey)
	} else if total != filtered.Len() {
		p.errorf("chunks hold %d measurements, filtered set holds %d", total, filtered.Len())
	}
	return p
}
