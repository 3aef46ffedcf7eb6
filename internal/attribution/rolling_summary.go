package attribution

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sentinelcore/audit-substrate/internal/ledgerio"
)

const (
	recordTypeRolling      = "PORTFOLIO_RISK_ATTRIBUTION_ROLLING_SUMMARY"
	rollingWindowSize      = 20
	rollingWindowLabel     = "20D"
	rollingNotionalDecimals = 2
	rollingPctDecimals      = 4
	rollingTopSymbolsLimit  = 25
)

var dailySummaryDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ListAvailableDailyDates returns the sorted NY dates with an existing daily
// summary file under ledgerRoot/ledger/PORTFOLIO_RISK_ATTRIBUTION_SUMMARY.
func ListAvailableDailyDates(ledgerRoot string) ([]string, error) {
	dir := filepath.Join(ledgerRoot, "ledger", "PORTFOLIO_RISK_ATTRIBUTION_SUMMARY")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list daily summaries: %w", err)
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		stem := strings.TrimSuffix(name, ".json")
		if dailySummaryDateRe.MatchString(stem) {
			dates = append(dates, stem)
		}
	}
	sort.Strings(dates)
	return dates, nil
}

func loadDailySummary(ledgerRoot, dateNY string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(DailySummaryPath(ledgerRoot, dateNY))
	if err != nil {
		return nil, err
	}
	var summary map[string]interface{}
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("parse daily summary %s: %w", dateNY, err)
	}
	return summary, nil
}

type reasonTotals struct {
	Decisions     int
	DeltaNotional float64
}

type rollingSymbolTotals struct {
	DeltaNotional float64
	Decisions     int
}

// BuildRollingSummary aggregates the last windowSize daily summaries on or
// before asOfDateNY into the PORTFOLIO_RISK_ATTRIBUTION_ROLLING_SUMMARY
// record. Returns (nil, nil) when asOfDateNY has no daily
// summary of its own, or fewer than windowSize eligible dates exist — this
// mirrors a nil return rather than
// raising.
func BuildRollingSummary(ledgerRoot, asOfDateNY string) (map[string]interface{}, error) {
	availableDates, err := ListAvailableDailyDates(ledgerRoot)
	if err != nil {
		return nil, err
	}

	foundAsOf := false
	var eligible []string
	for _, d := range availableDates {
		if d == asOfDateNY {
			foundAsOf = true
		}
		if d <= asOfDateNY {
			eligible = append(eligible, d)
		}
	}
	if !foundAsOf || len(eligible) < rollingWindowSize {
		return nil, nil
	}

	windowDates := eligible[len(eligible)-rollingWindowSize:]

	var baselineTotal, modulatedTotal float64
	var decisionsTotal, decisionsModulated, decisionsUnmodified int
	reasonAgg := map[string]*reasonTotals{}
	symbolAgg := map[string]*rollingSymbolTotals{}
	sourceFiles := make([]string, 0, len(windowDates))

	for _, date := range windowDates {
		summary, err := loadDailySummary(ledgerRoot, date)
		if err != nil {
			return nil, fmt.Errorf("load daily summary %s: %w", date, err)
		}
		sourceFiles = append(sourceFiles, DailySummaryPath(ledgerRoot, date))

		totals, _ := summary["notional_totals"].(map[string]interface{})
		baselineTotal += floatOf(totals["baseline_total"])
		modulatedTotal += floatOf(totals["modulated_total"])

		counts, _ := summary["counts"].(map[string]interface{})
		eventsTotal := intOf(counts["events_total"])
		eventsWithMod := intOf(counts["events_with_modulation"])
		decisionsTotal += eventsTotal
		decisionsModulated += eventsWithMod
		decisionsUnmodified += eventsTotal - eventsWithMod

		byReason, _ := summary["by_reason_code"].(map[string]interface{})
		for code, v := range byReason {
			decisions, delta := extractReasonCodeTotals(v)
			agg, ok := reasonAgg[code]
			if !ok {
				agg = &reasonTotals{}
				reasonAgg[code] = agg
			}
			agg.Decisions += decisions
			agg.DeltaNotional += delta
		}

		for _, entry := range extractSymbolEntries(summary) {
			symbol, _ := entry["symbol"].(string)
			if symbol == "" {
				continue
			}
			delta := floatOf(entry["delta_notional"])
			decisions := intOf(entry["decisions"])
			if decisions == 0 {
				decisions = intOf(entry["events"])
			}
			agg, ok := symbolAgg[symbol]
			if !ok {
				agg = &rollingSymbolTotals{}
				symbolAgg[symbol] = agg
			}
			agg.DeltaNotional += delta
			agg.Decisions += decisions
		}
	}

	deltaTotal := modulatedTotal - baselineTotal
	var deltaPct interface{}
	if baselineTotal > 0 {
		deltaPct = roundPct(deltaTotal / baselineTotal)
	}

	byReasonCode := map[string]interface{}{}
	for code, t := range reasonAgg {
		byReasonCode[code] = map[string]interface{}{
			"decisions":      t.Decisions,
			"delta_notional": roundNotional(t.DeltaNotional),
		}
	}

	topSymbols := buildRollingTopSymbols(symbolAgg)

	return map[string]interface{}{
		"schema_version": schemaVersion,
		"record_type":    recordTypeRolling,
		"as_of_date_ny":  asOfDateNY,
		"window": map[string]interface{}{
			"label":                 rollingWindowLabel,
			"trading_days_required": rollingWindowSize,
			"trading_days_included": len(windowDates),
			"start_date_ny":         windowDates[0],
			"end_date_ny":           windowDates[len(windowDates)-1],
			"dates_ny":              windowDates,
		},
		"inputs": map[string]interface{}{
			"source_dir":   filepath.Join("ledger", "PORTFOLIO_RISK_ATTRIBUTION_SUMMARY"),
			"source_files": sourceFiles,
		},
		"totals": map[string]interface{}{
			"baseline_notional":   roundNotional(baselineTotal),
			"modulated_notional":  roundNotional(modulatedTotal),
			"delta_notional":      roundNotional(deltaTotal),
			"delta_pct":           deltaPct,
			"decisions_total":      decisionsTotal,
			"decisions_modulated":  decisionsModulated,
			"decisions_unmodified": decisionsUnmodified,
		},
		"breakdowns": map[string]interface{}{
			"by_reason_code": byReasonCode,
		},
		"top_symbols": map[string]interface{}{
			"by_delta_notional": topSymbols,
		},
		"determinism": map[string]interface{}{
			"stable_json": true,
			"sort_keys":   true,
			"separators":  ",:",
			"rounding": map[string]interface{}{
				"notional_decimals": rollingNotionalDecimals,
				"pct_decimals":      rollingPctDecimals,
			},
			"window_rule": "last_20_available_dates_on_disk_lte_as_of",
		},
	}, nil
}

// buildRollingTopSymbols sorts ascending by signed delta_notional (not by
// magnitude) — a deliberate choice to preserve this ordering rather than
// guess at an intended "largest magnitude" fix (see DESIGN.md).
func buildRollingTopSymbols(symbols map[string]*rollingSymbolTotals) []map[string]interface{} {
	type entry struct {
		symbol string
		totals *rollingSymbolTotals
	}
	entries := make([]entry, 0, len(symbols))
	for sym, t := range symbols {
		entries = append(entries, entry{sym, t})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].totals.DeltaNotional != entries[j].totals.DeltaNotional {
			return entries[i].totals.DeltaNotional < entries[j].totals.DeltaNotional
		}
		return entries[i].symbol < entries[j].symbol
	})
	if len(entries) > rollingTopSymbolsLimit {
		entries = entries[:rollingTopSymbolsLimit]
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"symbol":         e.symbol,
			"delta_notional": roundNotional(e.totals.DeltaNotional),
			"decisions":      e.totals.Decisions,
		})
	}
	return out
}

// extractReasonCodeTotals handles a by_reason_code entry that is either a
// {decisions, delta_notional} object, or a bare count (the shape
// BuildDailySummary writes; it carries no delta_notional, so that part is 0).
func extractReasonCodeTotals(v interface{}) (int, float64) {
	switch val := v.(type) {
	case map[string]interface{}:
		return intOf(val["decisions"]), floatOf(val["delta_notional"])
	case float64:
		return int(val), 0
	default:
		return 0, 0
	}
}

// extractSymbolEntries tries the daily summary's top-symbols keys in
// priority order. In practice only
// top_symbols_by_abs_delta_notional is ever populated by WriteDailySummary,
// but the fallback chain is kept for robustness against older records.
func extractSymbolEntries(summary map[string]interface{}) []map[string]interface{} {
	for _, key := range []string{"top_symbols_by_abs_delta_notional", "top_symbols_by_delta_notional", "top_symbols"} {
		raw, ok := summary[key].([]interface{})
		if !ok {
			continue
		}
		out := make([]map[string]interface{}, 0, len(raw))
		for _, item := range raw {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func floatOf(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return 0
	}
}

func intOf(v interface{}) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	default:
		return 0
	}
}

func roundNotional(v float64) float64 {
	return roundTo(v, rollingNotionalDecimals)
}

func roundPct(v float64) float64 {
	return roundTo(v, rollingPctDecimals)
}

func roundTo(v float64, decimals int) float64 {
	scale := 1.0
	for i := 0; i < decimals; i++ {
		scale *= 10
	}
	return math.Round(v*scale) / scale
}

// RollingSummaryPath returns ledger/PORTFOLIO_RISK_ATTRIBUTION_ROLLING/{window_label}/{date}.json.
func RollingSummaryPath(ledgerRoot, asOfDateNY string) string {
	return filepath.Join(ledgerRoot, "ledger", "PORTFOLIO_RISK_ATTRIBUTION_ROLLING", rollingWindowLabel, asOfDateNY+".json")
}

// WriteRollingSummary atomically writes payload (temp-sibling + rename).
func WriteRollingSummary(ledgerRoot string, payload map[string]interface{}) error {
	asOfDateNY, _ := payload["as_of_date_ny"].(string)
	if asOfDateNY == "" {
		return fmt.Errorf("rolling summary missing as_of_date_ny")
	}
	encoded, err := ledgerio.MarshalStable(payload)
	if err != nil {
		return fmt.Errorf("encode rolling summary: %w", err)
	}
	return ledgerio.AtomicWriteFile(RollingSummaryPath(ledgerRoot, asOfDateNY), append(encoded, '\n'), 0o644)
}
