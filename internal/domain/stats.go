package domain

import "sort"

// ValueStats summarizes the pollutant values of a set for downstream
// consumers.
type ValueStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Count  int     `json:"count"`
}

// Summarize computes value statistics over a set. Returns nil for an empty
// set so callers can serialize the absence of statistics as null.
func Summarize(set *MeasurementSet) *ValueStats {
	if set.Len() == 0 {
		return nil
	}

	values := make([]float64, set.Len())
	sum := 0.0
	for i, m := range set.Measurements {
		values[i] = m.Value
		sum += m.Value
	}
	sort.Float64s(values)

	return &ValueStats{
		Min:    values[0],
		Max:    values[len(values)-1],
		Mean:   sum / float64(len(values)),
		Median: values[len(values)/2],
		Count:  len(values),
	}
}
