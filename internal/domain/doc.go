// Package domain models geocoded TEMPO pollutant measurements.
//
// # Data Source
//
// Measurements originate from NASA TEMPO L2 satellite granules. The upstream
// extraction service decodes each NetCDF granule, converts column densities to
// surface concentrations, and writes one JSON document per granule into the
// artifact store. Each document carries a "metadata" object (source identifier,
// pollutant, extraction time, point count) and a "measurements" array.
//
// # Quality Flags
//
// Every measurement carries a quality_flag in [0,1] produced by the TEMPO L2
// retrieval. Cloud cover, aerosols, and viewing geometry push the flag toward
// zero; some granule versions report a flat 0.0 for whole scenes. Selection is
// tiered rather than fixed-threshold:
//
//	STRICT     qf ≥ 0.75   only on explicit request, never entered automatically
//	MODERATE   qf ≥ 0.50   default starting tier
//	PERMISSIVE qf > 0.01   automatic fallback when MODERATE is empty
//	FALLBACK   everything  last resort, flagged LOW_CONFIDENCE with a warning
//
// The cascade never fails for "no good data": partial or uncertain data beats
// no data, provided the caller is told the confidence level. See [Classify].
//
// # Timestamps
//
// Measurement timestamps and the extraction time are RFC 3339 UTC instants.
// Artifact filenames embed the granule scan time as YYYYMMDDTHHMMSSZ, e.g.
// SURFACE_NO2_TEMPO_NO2_L2_V04_20251004T152407Z_S005G09.json; the retention
// sweeper prefers that embedded time over filesystem mtime.
package domain
