package riskcontrol

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeLedgerLine(t *testing.T, root, relDir, date, line string) {
	t.Helper()
	path := filepath.Join(root, "ledger", relDir, date+".jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0644))
}

func intp(v int) *int         { return &v }
func floatp(v float64) *float64 { return &v }

// S3 — Throttle + drawdown composition.
func TestBuild_ThrottleAndDrawdownComposition(t *testing.T) {
	root := t.TempDir()
	writeLedgerLine(t, root, "PORTFOLIO_THROTTLE", "2026-07-01",
		`{"record_type":"PORTFOLIO_THROTTLE","throttle":{"risk_multiplier":0.6,"max_new_positions_multiplier":0.5,"reasons":[]}}`)

	resolver := New(root, zerolog.Nop())
	result, err := resolver.Build(BuildInput{
		NYDate:               "2026-07-01",
		BaseMaxPositions:     intp(10),
		Drawdown:             floatp(0.30),
		MaxDrawdownPctBlock:  floatp(0.20),
		Enabled:              true,
		WriteLedger:          false,
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, result.Controls.RiskMultiplier)
	require.NotNil(t, result.Controls.MaxPositions)
	require.Equal(t, 5, *result.Controls.MaxPositions)
	require.Contains(t, result.Reasons, "drawdown_guardrail")
}

func TestBuild_Disabled_ReturnsFullMultiplierAndNoLedgerWrite(t *testing.T) {
	root := t.TempDir()
	resolver := New(root, zerolog.Nop())
	result, err := resolver.Build(BuildInput{NYDate: "2026-07-01", Enabled: false, WriteLedger: true})
	require.NoError(t, err)
	require.Equal(t, 1.0, result.Controls.RiskMultiplier)
	require.Equal(t, "disabled", result.Controls.ThrottleReason)
	require.Nil(t, result.Record)

	entries, _ := os.ReadDir(filepath.Join(root, "ledger", "PORTFOLIO_RISK_CONTROLS"))
	require.Empty(t, entries)
}

func TestBuild_FallsBackToRegimeE1WhenThrottleMissing(t *testing.T) {
	root := t.TempDir()
	writeLedgerLine(t, root, "REGIME_E1", "2026-07-01",
		`{"record_type":"REGIME_E1_SIGNAL","regime_label":"NEUTRAL","confidence":0.9}`)

	resolver := New(root, zerolog.Nop())
	result, err := resolver.Build(BuildInput{NYDate: "2026-07-01", Enabled: true, WriteLedger: false})
	require.NoError(t, err)
	require.InDelta(t, 0.6, result.Controls.RiskMultiplier, 1e-9)
}

func TestBuild_LowConfidenceHaircutHalvesMultipliers(t *testing.T) {
	root := t.TempDir()
	writeLedgerLine(t, root, "REGIME_E1", "2026-07-01",
		`{"record_type":"REGIME_E1_SIGNAL","regime_label":"RISK_ON","confidence":0.4}`)

	resolver := New(root, zerolog.Nop())
	result, err := resolver.Build(BuildInput{NYDate: "2026-07-01", Enabled: true, WriteLedger: false})
	require.NoError(t, err)
	require.InDelta(t, 0.5, result.Controls.RiskMultiplier, 1e-9)
	require.Contains(t, result.Reasons, "low_confidence_haircut")
}

func TestBuild_MissingEverythingFailsClosedToZero(t *testing.T) {
	root := t.TempDir()
	resolver := New(root, zerolog.Nop())
	result, err := resolver.Build(BuildInput{NYDate: "2026-07-01", Enabled: true, WriteLedger: false})
	require.NoError(t, err)
	require.Equal(t, 0.0, result.Controls.RiskMultiplier)
	require.Contains(t, result.Reasons, "missing_regime")
}

func TestBuild_AppendsStableJSONLineWhenWriteLedgerTrue(t *testing.T) {
	root := t.TempDir()
	resolver := New(root, zerolog.Nop())
	_, err := resolver.Build(BuildInput{NYDate: "2026-07-01", Enabled: true, WriteLedger: true})
	require.NoError(t, err)

	path := filepath.Join(root, "ledger", "PORTFOLIO_RISK_CONTROLS", "2026-07-01.jsonl")
	require.FileExists(t, path)
}

// Spec §8 property 7 — reason codes sorted and deduped.
func TestOrderedReasons_SortsAndDedupes(t *testing.T) {
	got := orderedReasons([]string{"z_reason", "a_reason", "a_reason"})
	require.Equal(t, []string{"a_reason", "z_reason"}, got)
}

func TestAdjustOrderQuantity_NeverBelowOneWhenBaselinePositive(t *testing.T) {
	controls := RiskControls{RiskMultiplier: 0.0}
	qty, err := AdjustOrderQuantity(10, 100, 100000, controls, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, qty)
}

func TestAdjustOrderQuantity_AppliesPerPositionCap(t *testing.T) {
	cap := 0.1
	controls := RiskControls{RiskMultiplier: 1.0, PerPositionCap: &cap}
	qty, err := AdjustOrderQuantity(1000, 100, 10000, controls, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 10, qty) // floor(10000*0.1/100) = 10
}

func TestAdjustOrderQuantity_RejectsNonPositivePrice(t *testing.T) {
	_, err := AdjustOrderQuantity(10, 0, 10000, RiskControls{RiskMultiplier: 1}, nil, nil)
	require.Error(t, err)
}

func TestAdjustOrderQuantity_ZeroBaseQtyReturnsZero(t *testing.T) {
	qty, err := AdjustOrderQuantity(0, 100, 10000, RiskControls{RiskMultiplier: 1}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, qty)
}

func TestClamp01_Bounds(t *testing.T) {
	require.Equal(t, 0.0, clamp01(-1))
	require.Equal(t, 1.0, clamp01(2))
	require.True(t, math.Abs(clamp01(0.5)-0.5) < 1e-9)
}
