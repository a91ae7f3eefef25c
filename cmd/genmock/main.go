// Command genmock generates a synthetic measurement document with a
// controllable quality-flag mix. It uses the actual domain types so the
// output decodes exactly like real extraction output.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out output/SURFACE_NO2_20251004T152407Z_S005G09.json \
//	  -pollutant NO2 -count 5000 -excellent 0.4 -good 0.3 -fair 0.2
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/skysift/tempo-data-quality/internal/domain"
)

// scanTime is embedded in the generated metadata; the filename timestamp is
// what retention uses, so pick the -out name accordingly.
var scanTime = time.Date(2025, time.October, 4, 15, 24, 7, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the measurement document")
	pollutant := flag.String("pollutant", "NO2", "pollutant name (NO2 or O3)")
	count := flag.Int("count", 1000, "number of measurements")
	seed := flag.Int64("seed", 42, "PRNG seed for reproducible fixtures")
	excellent := flag.Float64("excellent", 0.4, "fraction with quality_flag >= 0.75")
	good := flag.Float64("good", 0.3, "fraction with 0.50 <= quality_flag < 0.75")
	fair := flag.Float64("fair", 0.2, "fraction with 0 < quality_flag < 0.50; remainder is zero-flag")
	latMin := flag.Float64("lat-min", 25.0, "region latitude minimum")
	latMax := flag.Float64("lat-max", 50.0, "region latitude maximum")
	lonMin := flag.Float64("lon-min", -125.0, "region longitude minimum")
	lonMax := flag.Float64("lon-max", -65.0, "region longitude maximum")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	p, err := domain.ParsePollutant(*pollutant)
	if err != nil {
		return err
	}
	if *excellent+*good+*fair > 1.0 {
		return fmt.Errorf("quality fractions sum to more than 1")
	}

	rng := rand.New(rand.NewSource(*seed))
	measurements := make([]domain.Measurement, *count)
	for i := range measurements {
		measurements[i] = domain.Measurement{
			Latitude:    *latMin + rng.Float64()*(*latMax-*latMin),
			Longitude:   *lonMin + rng.Float64()*(*lonMax-*lonMin),
			Value:       rng.Float64() * 40,
			QualityFlag: pickFlag(rng, *excellent, *good, *fair),
			Timestamp:   scanTime.Add(time.Duration(i) * time.Millisecond),
			Pollutant:   p,
		}
	}

	doc := map[string]any{
		"metadata": domain.DocumentMetadata{
			SourceFile:  filepath.Base(*out),
			Pollutant:   string(p),
			ExtractedAt: scanTime,
			PointCount:  len(measurements),
		},
		"measurements": measurements,
	}

	if err := writeJSON(*out, doc); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote %d %s measurements to %s", len(measurements), p, *out)

	printStats(measurements)
	return nil
}

// pickFlag draws a quality flag from the requested bucket mix.
func pickFlag(rng *rand.Rand, excellent, good, fair float64) float64 {
	r := rng.Float64()
	switch {
	case r < excellent:
		return 0.75 + rng.Float64()*0.25
	case r < excellent+good:
		return 0.50 + rng.Float64()*0.25
	case r < excellent+good+fair:
		return 0.01 + rng.Float64()*0.48
	default:
		return 0.0
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printStats(measurements []domain.Measurement) {
	var counts domain.TierCounts
	for _, m := range measurements {
		counts.Observe(m.QualityFlag)
	}
	report := domain.SelectTier(counts, nil)

	log.Printf("distribution: excellent=%d good=%d fair=%d poor=%d",
		counts.Distribution.Excellent, counts.Distribution.Good,
		counts.Distribution.Fair, counts.Distribution.Poor)
	log.Printf("automatic cascade would use %s (%d of %d)",
		report.TierUsed, report.ValidCount, report.TotalCount)
}
