package attribution

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleEvent(symbol string, baselineQty, modulatedQty int, price float64, reasonCodes []string) map[string]interface{} {
	in := EventInput{
		DateNY:       "2026-07-01",
		Symbol:       symbol,
		BaselineQty:  baselineQty,
		ModulatedQty: modulatedQty,
		Price:        price,
		Source:       "risk_control_resolver",
	}
	event, _ := BuildEvent(in)
	if len(reasonCodes) > 0 {
		event["reason_codes"] = anySlice(reasonCodes)
	}
	return event
}

func anySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func TestBuildDailySummary_EmptyEventsYieldsNullDeltaPct(t *testing.T) {
	summary := BuildDailySummary("2026-07-01", nil, "risk_control_resolver")
	dist := summary["delta_pct_distribution"].(map[string]interface{})
	require.Nil(t, dist["min"])
	require.Nil(t, dist["median"])
	require.Nil(t, dist["max"])

	counts := summary["counts"].(map[string]interface{})
	require.Equal(t, 0, counts["events_total"])
}

func TestBuildDailySummary_AggregatesCountsAndTotals(t *testing.T) {
	events := []map[string]interface{}{
		sampleEvent("AAPL", 100, 60, 150, []string{"risk_multiplier"}),
		sampleEvent("MSFT", 50, 50, 200, nil),
	}
	summary := BuildDailySummary("2026-07-01", events, "risk_control_resolver")

	counts := summary["counts"].(map[string]interface{})
	require.Equal(t, 2, counts["events_total"])
	require.Equal(t, 1, counts["events_with_modulation"])
	require.Equal(t, 1, counts["events_no_modulation"])

	totals := summary["notional_totals"].(map[string]interface{})
	require.InDelta(t, 25000.0, totals["baseline_total"].(float64), 1e-9)
	require.InDelta(t, 19000.0, totals["modulated_total"].(float64), 1e-9)
	require.InDelta(t, -6000.0, totals["delta_total"].(float64), 1e-9)

	dist := summary["delta_pct_distribution"].(map[string]interface{})
	require.NotNil(t, dist["min"])
	require.NotNil(t, dist["max"])

	byReason := summary["by_reason_code"].(map[string]int)
	require.Equal(t, 1, byReason["risk_multiplier"])
}

func TestBuildDailySummary_TopSymbolsSortedByAbsDeltaDescending(t *testing.T) {
	events := []map[string]interface{}{
		sampleEvent("AAA", 100, 90, 100, nil),  // delta -1000
		sampleEvent("BBB", 100, 50, 100, nil),  // delta -5000
		sampleEvent("CCC", 100, 99, 100, nil),  // delta -100
	}
	summary := BuildDailySummary("2026-07-01", events, "s")
	top := summary["top_symbols_by_abs_delta_notional"].([]map[string]interface{})
	require.Len(t, top, 3)
	require.Equal(t, "BBB", top[0]["symbol"])
	require.Equal(t, "AAA", top[1]["symbol"])
	require.Equal(t, "CCC", top[2]["symbol"])
}

func TestWriteDailySummary_RoundTrip(t *testing.T) {
	root := t.TempDir()
	summary := BuildDailySummary("2026-07-01", nil, "s")
	require.NoError(t, WriteDailySummary(root, summary))
	require.FileExists(t, DailySummaryPath(root, "2026-07-01"))
}

func TestWriteDailySummary_RequiresDateNY(t *testing.T) {
	err := WriteDailySummary(t.TempDir(), map[string]interface{}{})
	require.Error(t, err)
}
