package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// DocumentMetadata is the metadata object of a serialized measurement
// document, as written by the upstream extraction service.
type DocumentMetadata struct {
	SourceFile  string     `json:"source_file"`
	Pollutant   string     `json:"pollutant"`
	ExtractedAt time.Time  `json:"extracted_at,omitzero"`
	PointCount  int        `json:"point_count"`
	ChunkInfo   *ChunkInfo `json:"chunk_info,omitempty"`
}

// ChunkInfo identifies one chunk of a document that was split for serving.
type ChunkInfo struct {
	ChunkNumber         int `json:"chunk_number"`
	TotalChunks         int `json:"total_chunks"`
	MeasurementsInChunk int `json:"measurements_in_chunk"`
	StartIndex          int `json:"start_index"`
	EndIndex            int `json:"end_index"`
}

// DecodeStats counts records seen and records rejected while decoding.
type DecodeStats struct {
	Records   int
	Malformed int
}

// rawRecord tolerates the field variations the extraction service has
// produced over time: converted documents carry surface_concentration,
// unconverted ones vertical_column, mock fixtures a plain value.
type rawRecord struct {
	Latitude             *float64 `json:"latitude"`
	Longitude            *float64 `json:"longitude"`
	QualityFlag          *float64 `json:"quality_flag"`
	Timestamp            string   `json:"timestamp"`
	Pollutant            string   `json:"pollutant"`
	SurfaceConcentration *float64 `json:"surface_concentration"`
	VerticalColumn       *float64 `json:"vertical_column"`
	Value                *float64 `json:"value"`
}

// DecodeDocument streams a measurement document, delivering measurements to
// onChunk in slices of at most chunkSize so documents larger than memory can
// be processed. Malformed records are skipped and counted; if more than half
// of all records are malformed the decode fails with ErrMalformedInput, since
// that indicates an upstream schema break rather than isolated bad points.
//
// The chunk slice is reused between calls; onChunk must not retain it.
func DecodeDocument(r io.Reader, chunkSize int, onChunk func([]Measurement) error) (DocumentMetadata, DecodeStats, error) {
	var meta DocumentMetadata
	var stats DecodeStats

	if chunkSize <= 0 {
		chunkSize = 10000
	}

	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return meta, stats, fmt.Errorf("decode document: %w", err)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return meta, stats, fmt.Errorf("decode document: %w", err)
		}
		key, _ := keyTok.(string)

		switch key {
		case "metadata":
			if err := dec.Decode(&meta); err != nil {
				return meta, stats, fmt.Errorf("decode metadata: %w", err)
			}
		case "measurements":
			if err := decodeMeasurements(dec, meta, chunkSize, &stats, onChunk); err != nil {
				return meta, stats, err
			}
		default:
			// Skip unknown top-level fields.
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return meta, stats, fmt.Errorf("decode document: %w", err)
			}
		}
	}

	if stats.Records > 0 && stats.Malformed*2 > stats.Records {
		return meta, stats, fmt.Errorf("%w: %d of %d records rejected",
			ErrMalformedInput, stats.Malformed, stats.Records)
	}
	return meta, stats, nil
}

func decodeMeasurements(dec *json.Decoder, meta DocumentMetadata, chunkSize int, stats *DecodeStats, onChunk func([]Measurement) error) error {
	if err := expectDelim(dec, '['); err != nil {
		return fmt.Errorf("decode measurements: %w", err)
	}

	docPollutant, _ := ParsePollutant(meta.Pollutant)
	chunk := make([]Measurement, 0, chunkSize)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
		chunk = chunk[:0]
		return nil
	}

	for dec.More() {
		var rec rawRecord
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("decode measurements: %w", err)
		}
		stats.Records++

		m, err := rec.toMeasurement(docPollutant)
		if err != nil {
			stats.Malformed++
			continue
		}
		chunk = append(chunk, m)
		if len(chunk) == chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if err := expectDelim(dec, ']'); err != nil {
		return fmt.Errorf("decode measurements: %w", err)
	}
	return flush()
}

func (rec rawRecord) toMeasurement(docPollutant Pollutant) (Measurement, error) {
	if rec.Latitude == nil || rec.Longitude == nil {
		return Measurement{}, errors.New("missing coordinates")
	}
	if rec.QualityFlag == nil {
		return Measurement{}, errors.New("missing quality_flag")
	}

	value, err := rec.pickValue()
	if err != nil {
		return Measurement{}, err
	}

	ts, err := time.Parse(time.RFC3339, rec.Timestamp)
	if err != nil {
		return Measurement{}, fmt.Errorf("bad timestamp %q: %w", rec.Timestamp, err)
	}

	pollutant := docPollutant
	if rec.Pollutant != "" {
		if p, err := ParsePollutant(rec.Pollutant); err == nil {
			pollutant = p
		}
	}

	m := Measurement{
		Latitude:    *rec.Latitude,
		Longitude:   *rec.Longitude,
		Value:       value,
		QualityFlag: *rec.QualityFlag,
		Timestamp:   ts,
		Pollutant:   pollutant,
	}
	if err := ValidateRecord(m); err != nil {
		return Measurement{}, err
	}
	return m, nil
}

func (rec rawRecord) pickValue() (float64, error) {
	switch {
	case rec.SurfaceConcentration != nil:
		return *rec.SurfaceConcentration, nil
	case rec.Value != nil:
		return *rec.Value, nil
	case rec.VerticalColumn != nil:
		return *rec.VerticalColumn, nil
	default:
		return 0, errors.New("missing value field")
	}
}

// ReadDocument decodes a whole document into a MeasurementSet. Intended for
// tools and tests; the pipeline streams chunks instead.
func ReadDocument(r io.Reader, sourceKey string, chunkSize int) (*MeasurementSet, DecodeStats, error) {
	var set *MeasurementSet
	var pending []Measurement

	meta, stats, err := DecodeDocument(r, chunkSize, func(chunk []Measurement) error {
		pending = append(pending, chunk...)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}

	pollutant, _ := ParsePollutant(meta.Pollutant)
	set = NewMeasurementSet(SetMetadata{
		SourceKey:   sourceKey,
		Pollutant:   pollutant,
		ExtractedAt: meta.ExtractedAt,
		PointCount:  len(pending),
	})
	set.Append(pending...)
	return set, stats, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
