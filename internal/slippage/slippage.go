// Package slippage implements the EXECUTION_SLIPPAGE ledger: per-fill
// slippage-in-basis-points events, classified by liquidity bucket and
// time-of-day bucket, with bucketed aggregation.
package slippage

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"github.com/sentinelcore/audit-substrate/internal/ledgerio"
)

const (
	schemaVersion = 1
	recordType    = "EXECUTION_SLIPPAGE"
)

// Event is one fill's slippage record.
type Event struct {
	DateNY          string
	Symbol          string
	StrategyID      string
	ExpectedPrice   float64
	IdealFillPrice  float64
	ActualFillPrice float64
	ADVShares20D    float64
	FillTsUTC       string
}

// ClassifyLiquidityBucket buckets a symbol's 20-day average daily volume —
// classify_liquidity_bucket.
func ClassifyLiquidityBucket(advShares20D float64) string {
	switch {
	case advShares20D >= 5_000_000:
		return "mega"
	case advShares20D >= 2_000_000:
		return "large"
	case advShares20D >= 750_000:
		return "mid"
	default:
		return "small"
	}
}

// ComputeSlippageBps returns (actual-ideal)/ideal * 10000, or NaN when the
// ideal price is zero/NaN or the actual price is NaN — compute_slippage_bps.
func ComputeSlippageBps(idealFillPrice, actualFillPrice float64) float64 {
	if idealFillPrice == 0.0 || math.IsNaN(idealFillPrice) || math.IsNaN(actualFillPrice) {
		return math.NaN()
	}
	return (actualFillPrice - idealFillPrice) / idealFillPrice * 10_000
}

// Record is the persisted ledger shape for one Event.
type Record struct {
	Event
	SchemaVersion   int
	RecordType      string
	SlippageBps     float64
	LiquidityBucket string
	TimeOfDayBucket string
}

// BuildRecord computes slippage_bps and both buckets and assembles the
// frozen SlippageEvent record shape.
func BuildRecord(event Event) Record {
	return Record{
		Event:           event,
		SchemaVersion:   schemaVersion,
		RecordType:      recordType,
		SlippageBps:     ComputeSlippageBps(event.IdealFillPrice, event.ActualFillPrice),
		LiquidityBucket: ClassifyLiquidityBucket(event.ADVShares20D),
		TimeOfDayBucket: ClassifyTimeBucket(event.FillTsUTC),
	}
}

func recordPayload(r Record) map[string]interface{} {
	return map[string]interface{}{
		"schema_version":    r.SchemaVersion,
		"record_type":       r.RecordType,
		"date_ny":           r.DateNY,
		"symbol":            r.Symbol,
		"strategy_id":       r.StrategyID,
		"expected_price":    r.ExpectedPrice,
		"ideal_fill_price":  r.IdealFillPrice,
		"actual_fill_price": r.ActualFillPrice,
		"slippage_bps":      nanToNull(r.SlippageBps),
		"adv_shares_20d":    r.ADVShares20D,
		"liquidity_bucket":  r.LiquidityBucket,
		"fill_ts_utc":       r.FillTsUTC,
		"time_of_day_bucket": r.TimeOfDayBucket,
	}
}

func nanToNull(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

// LedgerPath returns ledger/EXECUTION_SLIPPAGE/{date}.jsonl rooted at repoRoot.
func LedgerPath(repoRoot, dateNY string) string {
	return filepath.Join(repoRoot, "ledger", "EXECUTION_SLIPPAGE", dateNY+".jsonl")
}

// AppendEvent stable-JSON-encodes a slippage record and appends it to the
// date's ledger — append_slippage_event.
func AppendEvent(repoRoot string, event Event) error {
	record := BuildRecord(event)
	if record.DateNY == "" {
		return fmt.Errorf("slippage event missing date_ny")
	}
	encoded, err := ledgerio.MarshalStable(recordPayload(record))
	if err != nil {
		return fmt.Errorf("encode slippage record: %w", err)
	}
	return ledgerio.AppendJSONLLine(LedgerPath(repoRoot, record.DateNY), encoded)
}

// BucketStats summarizes one bucket's slippage distribution.
type BucketStats struct {
	Count   int
	MeanBps float64
	MinBps  float64
	MaxBps  float64
}

// AggregateByBucket groups finite slippage_bps values by liquidity bucket —
// aggregate_slippage_by_bucket.
func AggregateByBucket(records []Record) map[string]BucketStats {
	return aggregateBy(records, func(r Record) string { return r.LiquidityBucket })
}

// AggregateByTime groups finite slippage_bps values by time-of-day bucket —
// aggregate_slippage_by_time.
func AggregateByTime(records []Record) map[string]BucketStats {
	return aggregateBy(records, func(r Record) string { return r.TimeOfDayBucket })
}

func aggregateBy(records []Record, keyFn func(Record) string) map[string]BucketStats {
	buckets := map[string][]float64{}
	for _, r := range records {
		if math.IsNaN(r.SlippageBps) {
			continue
		}
		key := keyFn(r)
		buckets[key] = append(buckets[key], r.SlippageBps)
	}

	result := make(map[string]BucketStats, len(buckets))
	for bucket, values := range buckets {
		sum, min, max := 0.0, values[0], values[0]
		for _, v := range values {
			sum += v
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		result[bucket] = BucketStats{Count: len(values), MeanBps: sum / float64(len(values)), MinBps: min, MaxBps: max}
	}
	return result
}

// sortedBucketKeys is a test/reporting convenience giving deterministic,
// lexicographically sorted iteration order over the bucket map.
func sortedBucketKeys(stats map[string]BucketStats) []string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
