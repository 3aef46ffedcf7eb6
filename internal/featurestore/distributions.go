package featurestore

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/sentinelcore/audit-substrate/internal/ledgerio"
)

// FeatureDistribution is the per-feature-column stats row written by
// WriteCrossSectionalDistributions, grounded on
// feature_store/writers.py's write_cross_sectional_distributions.
type FeatureDistribution struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	P10   float64 `json:"p10"`
	P25   float64 `json:"p25"`
	P50   float64 `json:"p50"`
	P75   float64 `json:"p75"`
	P90   float64 `json:"p90"`
	Max   float64 `json:"max"`
}

type crossSectionalPayload struct {
	Date        string                          `json:"date"`
	GitSHA      string                          `json:"git_sha"`
	FeatureType string                          `json:"feature_type"`
	Features    map[string]FeatureDistribution `json:"features"`
}

// WriteCrossSectionalDistributions persists, per feature column, the
// population stats needed to reproduce any day's z-score population:
// mean/std/count plus p10/p25/p50/p75/p90/min/max. Columns with no finite
// values are omitted entirely rather than written as zeroed stats.
func (s *Store) WriteCrossSectionalDistributions(date string, columns map[string][]float64) (string, error) {
	stats := make(map[string]FeatureDistribution, len(columns))

	// Sort column names for deterministic iteration even though the final
	// JSON keys are re-sorted by MarshalStable; keeps behavior predictable
	// under test.
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		values := finiteValues(columns[name])
		if len(values) == 0 {
			continue
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)

		mean := stat.Mean(sorted, nil)
		std := 0.0
		if len(sorted) > 1 {
			std = stat.StdDev(sorted, nil)
		}

		stats[name] = FeatureDistribution{
			Mean:  mean,
			Std:   std,
			Count: len(sorted),
			Min:   sorted[0],
			P10:   stat.Quantile(0.10, stat.Empirical, sorted, nil),
			P25:   stat.Quantile(0.25, stat.Empirical, sorted, nil),
			P50:   stat.Quantile(0.50, stat.Empirical, sorted, nil),
			P75:   stat.Quantile(0.75, stat.Empirical, sorted, nil),
			P90:   stat.Quantile(0.90, stat.Empirical, sorted, nil),
			Max:   sorted[len(sorted)-1],
		}
	}

	payload := crossSectionalPayload{
		Date:        date,
		GitSHA:      s.gitSHA,
		FeatureType: "cross_sectional_distributions",
		Features:    stats,
	}
	encoded, err := ledgerio.MarshalStable(payload)
	if err != nil {
		return "", fmt.Errorf("encode cross-sectional distributions: %w", err)
	}

	outPath := filepath.Join(partitionDir(s.baseDir, s.schemaVersion, date), "cross_sectional_distributions.json")
	if err := ledgerio.AtomicWriteFile(outPath, encoded, 0644); err != nil {
		return "", fmt.Errorf("write cross-sectional distributions: %w", err)
	}
	return outPath, nil
}

func finiteValues(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}
