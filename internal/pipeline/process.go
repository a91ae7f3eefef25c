package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/skysift/tempo-data-quality/internal/artifact"
	"github.com/skysift/tempo-data-quality/internal/domain"
	"github.com/skysift/tempo-data-quality/internal/spatial"
)

// chunkDocument is the serialized form of one published chunk. It mirrors
// the input document layout so downstream consumers parse both the same way.
type chunkDocument struct {
	Metadata     domain.DocumentMetadata `json:"metadata"`
	Measurements []domain.Measurement    `json:"measurements"`
}

// processArtifact classifies, indexes and republishes one measurement
// document. Classification is two streaming passes over the file: the first
// tallies tier counts so the cascade can be decided up front, the second
// keeps only accepted measurements, so memory is bounded by the surviving
// subset rather than the raw document.
func (p *Pipeline) processArtifact(ctx context.Context, info artifact.Info) (domain.ArtifactResult, error) {
	var result domain.ArtifactResult

	counts, meta, err := p.tallyPass(ctx, info)
	if err != nil {
		return result, err
	}

	var requested *domain.QualityTier
	if p.opts.RequestedTier != "" {
		requested = &p.opts.RequestedTier
	}
	report := domain.SelectTier(counts, requested)
	p.metrics.TierSelected.WithLabelValues(string(report.TierUsed)).Inc()

	pollutant, _ := domain.ParsePollutant(meta.Pollutant)
	set := domain.NewMeasurementSet(domain.SetMetadata{
		SourceKey:   info.Key,
		Pollutant:   pollutant,
		ExtractedAt: meta.ExtractedAt,
	})
	index := spatial.New(set, p.opts.CellSize)

	if report.ValidCount > 0 {
		if err := p.filterPass(ctx, info, report.TierUsed, set, index); err != nil {
			return result, err
		}
		if n := index.Skipped(); n > 0 {
			p.logger.Warn("measurements excluded from spatial index",
				"key", info.Key, "count", n)
			p.metrics.UnindexedCoords.Add(float64(n))
		}
	}
	set.Metadata.PointCount = set.Len()

	chunkKeys, err := p.writeChunks(info.Key, meta, set)
	if err != nil {
		return result, err
	}

	p.catalog.Update(info.Key, set, index, report)

	p.logger.Info("artifact classified",
		"key", info.Key,
		"tier", report.TierUsed,
		"valid", report.ValidCount,
		"total", report.TotalCount,
		"cells", index.Cells(),
		"chunks", len(chunkKeys))
	if report.FallbackUsed {
		p.logger.Warn("fallback tier used", "key", info.Key, "warning", report.Warning)
	}

	return domain.ArtifactResult{
		SourceKey:   info.Key,
		Pollutant:   pollutant,
		Quality:     report,
		Statistics:  domain.Summarize(set),
		ChunkKeys:   chunkKeys,
		ProcessedAt: domain.Now(),
	}, nil
}

// tallyPass streams the document once to count how many measurements each
// tier would accept.
func (p *Pipeline) tallyPass(ctx context.Context, info artifact.Info) (domain.TierCounts, domain.DocumentMetadata, error) {
	var counts domain.TierCounts

	r, err := p.source.Open(info.Key)
	if err != nil {
		return counts, domain.DocumentMetadata{}, err
	}
	defer r.Close()

	meta, stats, err := domain.DecodeDocument(r, p.opts.ChunkSize, func(chunk []domain.Measurement) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, m := range chunk {
			counts.Observe(m.QualityFlag)
		}
		return nil
	})
	p.metrics.MeasurementsDecoded.Add(float64(stats.Records))
	p.metrics.MalformedRecords.Add(float64(stats.Malformed))
	if err != nil {
		return counts, meta, fmt.Errorf("tally %s: %w", info.Key, err)
	}
	if stats.Malformed > 0 {
		p.logger.Warn("malformed records skipped",
			"key", info.Key, "malformed", stats.Malformed, "records", stats.Records)
	}
	return counts, meta, nil
}

// filterPass streams the document again, keeping measurements the selected
// tier accepts and indexing them incrementally as they arrive.
func (p *Pipeline) filterPass(ctx context.Context, info artifact.Info, tier domain.QualityTier,
	set *domain.MeasurementSet, index *spatial.GridIndex) error {

	r, err := p.source.Open(info.Key)
	if err != nil {
		return err
	}
	defer r.Close()

	_, _, err = domain.DecodeDocument(r, p.opts.ChunkSize, func(chunk []domain.Measurement) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, m := range chunk {
			if tier.Accepts(m.QualityFlag) {
				set.Append(m)
			}
		}
		index.Extend()
		return nil
	})
	if err != nil {
		return fmt.Errorf("filter %s: %w", info.Key, err)
	}
	return nil
}

// writeChunks splits the filtered set into bounded chunk documents and
// writes them to the chunk store. An empty set still produces one chunk so
// downstream consumers always have a document to fetch.
func (p *Pipeline) writeChunks(sourceKey string, meta domain.DocumentMetadata, set *domain.MeasurementSet) ([]string, error) {
	size := p.opts.OutputChunkSize
	total := (set.Len() + size - 1) / size
	if total == 0 {
		total = 1
	}

	base := strings.TrimSuffix(sourceKey, ".json")
	keys := make([]string, 0, total)

	for n := 0; n < total; n++ {
		start := n * size
		end := start + size
		if end > set.Len() {
			end = set.Len()
		}

		doc := chunkDocument{
			Metadata: domain.DocumentMetadata{
				SourceFile:  meta.SourceFile,
				Pollutant:   meta.Pollutant,
				ExtractedAt: meta.ExtractedAt,
				PointCount:  end - start,
				ChunkInfo: &domain.ChunkInfo{
					ChunkNumber:         n + 1,
					TotalChunks:         total,
					MeasurementsInChunk: end - start,
					StartIndex:          start,
					EndIndex:            end,
				},
			},
			Measurements: set.Measurements[start:end],
		}
		key := fmt.Sprintf("%s_chunk_%03d_of_%03d.json", base, n+1, total)
		if err := p.chunks.WriteJSON(key, doc); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
