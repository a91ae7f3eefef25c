package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Pollutant identifies the trace gas a measurement refers to.
type Pollutant string

const (
	PollutantNO2 Pollutant = "NO2"
	PollutantO3  Pollutant = "O3"
)

// ParsePollutant validates a pollutant name from an input document.
func ParsePollutant(s string) (Pollutant, error) {
	switch Pollutant(s) {
	case PollutantNO2, PollutantO3:
		return Pollutant(s), nil
	default:
		return "", fmt.Errorf("unknown pollutant %q", s)
	}
}

// Measurement is one geocoded pollutant reading. Immutable once constructed.
type Measurement struct {
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Value       float64   `json:"value"`
	QualityFlag float64   `json:"quality_flag"`
	Timestamp   time.Time `json:"timestamp"`
	Pollutant   Pollutant `json:"pollutant"`
}

// SetMetadata describes where a MeasurementSet came from.
type SetMetadata struct {
	SourceKey   string    `json:"source_key"`
	Pollutant   Pollutant `json:"pollutant"`
	ExtractedAt time.Time `json:"extracted_at"`
	PointCount  int       `json:"point_count"`
}

// MeasurementSet is an ordered, append-only collection of measurements owned
// by the pipeline run that created it. Filtering never mutates the backing
// slice; it produces a new set. Spatial indexes store positions into
// Measurements, so a set must outlive any index built over it.
type MeasurementSet struct {
	Metadata     SetMetadata
	Measurements []Measurement
}

// NewMeasurementSet creates an empty set with the given metadata.
func NewMeasurementSet(meta SetMetadata) *MeasurementSet {
	return &MeasurementSet{Metadata: meta}
}

// Append adds measurements to the backing slice.
func (s *MeasurementSet) Append(ms ...Measurement) {
	s.Measurements = append(s.Measurements, ms...)
}

// Len returns the number of measurements in the set.
func (s *MeasurementSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Measurements)
}

// At returns the measurement at position i.
func (s *MeasurementSet) At(i int) Measurement {
	return s.Measurements[i]
}

// ErrMalformedInput reports an upstream schema break: more than half of the
// records in a document were structurally invalid.
var ErrMalformedInput = errors.New("malformed input: skip ratio exceeds safety threshold")

// ValidateRecord checks the structural invariants a record must satisfy to
// enter a MeasurementSet: a quality flag inside [0,1] and a finite value.
// Coordinate range is deliberately not checked here; out-of-range points stay
// in the set and are excluded at index-build time instead.
func ValidateRecord(m Measurement) error {
	if math.IsNaN(m.QualityFlag) || m.QualityFlag < 0 || m.QualityFlag > 1 {
		return fmt.Errorf("quality_flag %v outside [0,1]", m.QualityFlag)
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return fmt.Errorf("value %v is not finite", m.Value)
	}
	if m.Timestamp.IsZero() {
		return errors.New("missing timestamp")
	}
	return nil
}
