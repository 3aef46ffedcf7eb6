package attribution

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"github.com/sentinelcore/audit-substrate/internal/ledgerio"
)

const (
	recordTypeDailySummary = "PORTFOLIO_RISK_ATTRIBUTION_SUMMARY"
	dailyRoundDecimals     = 10
	dailyTopSymbolsLimit   = 20
)

// LoadEvents reads every attribution event recorded for dateNY. A missing
// ledger file is not an error — it yields zero events.
func LoadEvents(ledgerRoot, dateNY string) ([]map[string]interface{}, error) {
	lines, err := ledgerio.ReadJSONLLines(LedgerPath(ledgerRoot, dateNY))
	if err != nil {
		return nil, fmt.Errorf("read attribution ledger: %w", err)
	}
	events := make([]map[string]interface{}, 0, len(lines))
	for _, line := range lines {
		var event map[string]interface{}
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

type symbolTotals struct {
	BaselineNotional float64
	ModulatedNotional float64
	DeltaNotional    float64
	Events           int
}

// BuildDailySummary aggregates one NY date's attribution events into the
// PORTFOLIO_RISK_ATTRIBUTION_SUMMARY record. The
// delta_pct_distribution fields are seeded explicit-null and only filled when
// at least one event contributed a value, rather than computing a median
// over an empty series.
func BuildDailySummary(dateNY string, events []map[string]interface{}, source string) map[string]interface{} {
	eventsTotal := len(events)
	eventsWithModulation := 0
	eventsNoModulation := 0
	var baselineTotal, modulatedTotal float64
	var deltaPctValues []float64
	reasonCounts := map[string]int{}
	regimeCounts := map[string]int{}
	hardCapsCounts := map[string]int{}
	symbols := map[string]*symbolTotals{}

	for _, event := range events {
		baseline := numberField(event, "baseline", "notional")
		modulated := numberField(event, "modulated", "notional")
		deltaQty := numberField(event, "delta", "qty")
		deltaNotional := numberField(event, "delta", "notional")

		baselineTotal += baseline
		modulatedTotal += modulated

		if deltaQty != 0 || deltaNotional != 0 {
			eventsWithModulation++
		} else {
			eventsNoModulation++
		}

		if baseline > 0 {
			pct := pctNotionalOf(event)
			if pct == nil {
				v := deltaNotional / baseline
				pct = &v
			}
			deltaPctValues = append(deltaPctValues, *pct)
		}

		for _, code := range stringSliceField(event, "reason_codes") {
			reasonCounts[code]++
		}
		regimeCode := "UNKNOWN"
		if regime, ok := event["regime"].(map[string]interface{}); ok {
			if code, ok := regime["code"].(string); ok && code != "" {
				regimeCode = code
			}
		}
		regimeCounts[regimeCode]++

		for _, code := range stringSliceField(event, "hard_caps_applied") {
			hardCapsCounts[code]++
		}

		symbol, _ := event["symbol"].(string)
		if symbol != "" {
			st, ok := symbols[symbol]
			if !ok {
				st = &symbolTotals{}
				symbols[symbol] = st
			}
			st.BaselineNotional += baseline
			st.ModulatedNotional += modulated
			st.DeltaNotional += deltaNotional
			st.Events++
		}
	}

	deltaTotal := modulatedTotal - baselineTotal

	var deltaPctMin, deltaPctMedian, deltaPctMax interface{}
	if len(deltaPctValues) > 0 {
		sorted := append([]float64(nil), deltaPctValues...)
		sort.Float64s(sorted)
		deltaPctMin = roundDaily(sorted[0])
		deltaPctMax = roundDaily(sorted[len(sorted)-1])
		deltaPctMedian = roundDaily(medianOf(sorted))
	}

	topSymbols := buildDailyTopSymbols(symbols)

	return map[string]interface{}{
		"schema_version": schemaVersion,
		"record_type":    recordTypeDailySummary,
		"date_ny":        dateNY,
		"source":         source,
		"counts": map[string]interface{}{
			"events_total":          eventsTotal,
			"events_with_modulation": eventsWithModulation,
			"events_no_modulation":  eventsNoModulation,
		},
		"notional_totals": map[string]interface{}{
			"baseline_total":  roundDaily(baselineTotal),
			"modulated_total": roundDaily(modulatedTotal),
			"delta_total":     roundDaily(deltaTotal),
			"delta_total_abs": roundDaily(math.Abs(deltaTotal)),
		},
		"delta_pct_distribution": map[string]interface{}{
			"min":    deltaPctMin,
			"median": deltaPctMedian,
			"max":    deltaPctMax,
		},
		"by_reason_code":               reasonCounts,
		"by_regime_code":               regimeCounts,
		"hard_caps_applied_counts":     hardCapsCounts,
		"top_symbols_by_abs_delta_notional": topSymbols,
	}
}

func buildDailyTopSymbols(symbols map[string]*symbolTotals) []map[string]interface{} {
	type entry struct {
		symbol string
		totals *symbolTotals
	}
	entries := make([]entry, 0, len(symbols))
	for sym, t := range symbols {
		entries = append(entries, entry{sym, t})
	}
	sort.Slice(entries, func(i, j int) bool {
		absI := math.Abs(entries[i].totals.DeltaNotional)
		absJ := math.Abs(entries[j].totals.DeltaNotional)
		if absI != absJ {
			return absI > absJ
		}
		return entries[i].symbol < entries[j].symbol
	})
	if len(entries) > dailyTopSymbolsLimit {
		entries = entries[:dailyTopSymbolsLimit]
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"symbol":            e.symbol,
			"abs_delta_notional": roundDaily(math.Abs(e.totals.DeltaNotional)),
			"delta_notional":     roundDaily(e.totals.DeltaNotional),
			"baseline_notional":  roundDaily(e.totals.BaselineNotional),
			"modulated_notional": roundDaily(e.totals.ModulatedNotional),
			"events":             e.totals.Events,
		})
	}
	return out
}

// DailySummaryPath returns ledger/PORTFOLIO_RISK_ATTRIBUTION_SUMMARY/{date}.json.
func DailySummaryPath(ledgerRoot, dateNY string) string {
	return filepath.Join(ledgerRoot, "ledger", "PORTFOLIO_RISK_ATTRIBUTION_SUMMARY", dateNY+".json")
}

// WriteDailySummary always writes atomically (temp-sibling + rename), for
// the same crash-safety reason every other ledger writer in this repo does.
func WriteDailySummary(ledgerRoot string, summary map[string]interface{}) error {
	dateNY, _ := summary["date_ny"].(string)
	if dateNY == "" {
		return fmt.Errorf("summary missing date_ny")
	}
	encoded, err := ledgerio.MarshalStable(summary)
	if err != nil {
		return fmt.Errorf("encode daily summary: %w", err)
	}
	return ledgerio.AtomicWriteFile(DailySummaryPath(ledgerRoot, dateNY), append(encoded, '\n'), 0o644)
}

func numberField(m map[string]interface{}, keys ...string) float64 {
	cur := interface{}(m)
	for _, k := range keys {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return 0
		}
		cur = asMap[k]
	}
	switch v := cur.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func pctNotionalOf(event map[string]interface{}) *float64 {
	delta, ok := event["delta"].(map[string]interface{})
	if !ok {
		return nil
	}
	v, ok := delta["pct_notional"].(float64)
	if !ok {
		return nil
	}
	return &v
}

func stringSliceField(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func roundDaily(v float64) float64 {
	scale := math.Pow(10, dailyRoundDecimals)
	return math.Round(v*scale) / scale
}
