package domain

import "time"

// ArtifactResult is the per-artifact outcome handed to the downstream
// serving collaborator: the quality report and value statistics of the
// filtered set, plus the keys of the chunk documents that carry the
// measurements themselves.
type ArtifactResult struct {
	SourceKey   string        `json:"source_key"`
	Pollutant   Pollutant     `json:"pollutant"`
	Quality     QualityReport `json:"quality"`
	Statistics  *ValueStats   `json:"statistics"`
	ChunkKeys   []string      `json:"chunk_keys"`
	ProcessedAt time.Time     `json:"processed_at"`
}
