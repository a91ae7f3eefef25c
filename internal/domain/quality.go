package domain

import "fmt"

// QualityTier is a named quality_flag threshold used to select a subset of a
// MeasurementSet. Thresholds are strictly ordered:
// STRICT(0.75) > MODERATE(0.50) > PERMISSIVE(0.01) > FALLBACK(0.0).
type QualityTier string

const (
	TierStrict     QualityTier = "STRICT"
	TierModerate   QualityTier = "MODERATE"
	TierPermissive QualityTier = "PERMISSIVE"
	TierFallback   QualityTier = "FALLBACK"
	TierNoData     QualityTier = "NO_DATA"
)

// ParseTier validates a caller-requested tier name. Only tiers that select
// data can be requested; NO_DATA is a report state, not a selection.
func ParseTier(s string) (QualityTier, error) {
	switch QualityTier(s) {
	case TierStrict, TierModerate, TierPermissive, TierFallback:
		return QualityTier(s), nil
	default:
		return "", fmt.Errorf("unknown quality tier %q", s)
	}
}

// Threshold returns the quality_flag cutoff for the tier.
func (t QualityTier) Threshold() float64 {
	switch t {
	case TierStrict:
		return 0.75
	case TierModerate:
		return 0.50
	case TierPermissive:
		return 0.01
	default:
		return 0.0
	}
}

// Accepts reports whether a quality flag passes the tier. STRICT and MODERATE
// are inclusive thresholds; PERMISSIVE is exclusive so that flat-zero flags
// (common in older granule versions) fall through to FALLBACK.
func (t QualityTier) Accepts(qf float64) bool {
	switch t {
	case TierStrict, TierModerate:
		return qf >= t.Threshold()
	case TierPermissive:
		return qf > t.Threshold()
	default:
		return true
	}
}

// Reliability is the confidence label surfaced to downstream consumers.
type Reliability string

const (
	ReliabilityGood          Reliability = "GOOD"
	ReliabilityAcceptable    Reliability = "ACCEPTABLE"
	ReliabilityLowConfidence Reliability = "LOW_CONFIDENCE"
	ReliabilityNone          Reliability = "NONE"
)

// QualityDistribution buckets quality flags for reporting.
type QualityDistribution struct {
	Excellent int `json:"excellent"` // qf ≥ 0.75
	Good      int `json:"good"`      // 0.50 ≤ qf < 0.75
	Fair      int `json:"fair"`      // 0 < qf < 0.50
	Poor      int `json:"poor"`      // qf ≤ 0
}

// TierCounts tallies how many measurements each tier would accept. It is
// built in one streaming pass so the cascade can be decided without holding
// the whole set in memory.
type TierCounts struct {
	Total        int
	Strict       int
	Moderate     int
	Permissive   int
	Distribution QualityDistribution
}

// Observe records one quality flag.
func (c *TierCounts) Observe(qf float64) {
	c.Total++
	if TierStrict.Accepts(qf) {
		c.Strict++
	}
	if TierModerate.Accepts(qf) {
		c.Moderate++
	}
	if TierPermissive.Accepts(qf) {
		c.Permissive++
	}

	switch {
	case qf >= 0.75:
		c.Distribution.Excellent++
	case qf >= 0.50:
		c.Distribution.Good++
	case qf > 0:
		c.Distribution.Fair++
	default:
		c.Distribution.Poor++
	}
}

// accepted returns how many measurements the tier would keep.
func (c *TierCounts) accepted(t QualityTier) int {
	switch t {
	case TierStrict:
		return c.Strict
	case TierModerate:
		return c.Moderate
	case TierPermissive:
		return c.Permissive
	default:
		return c.Total
	}
}

// QualityReport describes the outcome of one classification call.
type QualityReport struct {
	TierUsed     QualityTier         `json:"tier_used"`
	ValidCount   int                 `json:"valid_count"`
	TotalCount   int                 `json:"total_count"`
	FallbackUsed bool                `json:"fallback_used"`
	Reliability  Reliability         `json:"reliability"`
	Warning      string              `json:"warning,omitempty"`
	Distribution QualityDistribution `json:"quality_distribution"`
}

// FallbackWarning is attached to reports whenever the FALLBACK tier is used.
const FallbackWarning = "measurements may have low confidence due to adverse " +
	"atmospheric conditions (clouds, aerosols); use with caution"

// SelectTier decides which tier to use from pre-computed counts.
//
// With requested == nil it runs the automatic cascade: MODERATE, then
// PERMISSIVE, then FALLBACK over the full set. A non-nil requested tier
// bypasses the cascade entirely: the result may be empty and no fallback
// occurs. STRICT is only ever reached this way.
func SelectTier(counts TierCounts, requested *QualityTier) QualityReport {
	report := QualityReport{
		TotalCount:   counts.Total,
		Distribution: counts.Distribution,
	}

	if counts.Total == 0 {
		report.TierUsed = TierNoData
		report.Reliability = ReliabilityNone
		return report
	}

	if requested != nil {
		report.TierUsed = *requested
		report.ValidCount = counts.accepted(*requested)
		report.Reliability = reliabilityFor(*requested)
		if *requested == TierFallback {
			report.FallbackUsed = true
			report.Warning = FallbackWarning
		}
		if report.ValidCount == 0 {
			report.Reliability = ReliabilityNone
		}
		return report
	}

	switch {
	case counts.Moderate > 0:
		report.TierUsed = TierModerate
		report.ValidCount = counts.Moderate
		report.Reliability = ReliabilityGood
	case counts.Permissive > 0:
		report.TierUsed = TierPermissive
		report.ValidCount = counts.Permissive
		report.Reliability = ReliabilityAcceptable
	default:
		report.TierUsed = TierFallback
		report.ValidCount = counts.Total
		report.FallbackUsed = true
		report.Reliability = ReliabilityLowConfidence
		report.Warning = FallbackWarning
	}
	return report
}

func reliabilityFor(t QualityTier) Reliability {
	switch t {
	case TierStrict, TierModerate:
		return ReliabilityGood
	case TierPermissive:
		return ReliabilityAcceptable
	default:
		return ReliabilityLowConfidence
	}
}

// Filter produces a new MeasurementSet holding the measurements the tier
// accepts. The input set is never mutated.
func Filter(set *MeasurementSet, tier QualityTier) *MeasurementSet {
	out := NewMeasurementSet(set.Metadata)
	for _, m := range set.Measurements {
		if tier.Accepts(m.QualityFlag) {
			out.Append(m)
		}
	}
	out.Metadata.PointCount = out.Len()
	return out
}

// Classify selects the most permissive-yet-reliable subset of a set via the
// automatic cascade. It is a pure function: no side effects, no randomness,
// and it never fails — an all-rejected set degrades to FALLBACK rather than
// returning nothing.
func Classify(set *MeasurementSet) (*MeasurementSet, QualityReport) {
	return classify(set, nil)
}

// ClassifyWithTier filters by an explicitly requested tier, bypassing the
// cascade. Unlike Classify, the result may be empty.
func ClassifyWithTier(set *MeasurementSet, tier QualityTier) (*MeasurementSet, QualityReport) {
	return classify(set, &tier)
}

func classify(set *MeasurementSet, requested *QualityTier) (*MeasurementSet, QualityReport) {
	var counts TierCounts
	for _, m := range set.Measurements {
		counts.Observe(m.QualityFlag)
	}

	report := SelectTier(counts, requested)
	if report.TierUsed == TierNoData {
		return NewMeasurementSet(set.Metadata), report
	}
	return Filter(set, report.TierUsed), report
}
