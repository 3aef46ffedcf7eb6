package attribution

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentinelcore/audit-substrate/internal/riskcontrol"
)

func floatp(v float64) *float64 { return &v }
func intp(v int) *int           { return &v }

func TestBuildEvent_DecisionIDIsDeterministic(t *testing.T) {
	in := EventInput{
		DateNY:       "2026-07-01",
		Symbol:       "AAPL",
		BaselineQty:  100,
		ModulatedQty: 60,
		Price:        150,
		Source:       "risk_control_resolver",
	}
	a, err := BuildEvent(in)
	require.NoError(t, err)
	b, err := BuildEvent(in)
	require.NoError(t, err)
	require.Equal(t, a["decision_id"], b["decision_id"])
	require.NotEmpty(t, a["decision_id"])
}

func TestBuildEvent_DecisionIDChangesWithSymbol(t *testing.T) {
	base := EventInput{DateNY: "2026-07-01", Symbol: "AAPL", BaselineQty: 100, ModulatedQty: 60, Price: 150, Source: "s"}
	other := base
	other.Symbol = "MSFT"

	a, err := BuildEvent(base)
	require.NoError(t, err)
	b, err := BuildEvent(other)
	require.NoError(t, err)
	require.NotEqual(t, a["decision_id"], b["decision_id"])
}

// Spec §8 scenario S5 — baseline/modulated/delta math.
func TestBuildEvent_DeltaMath(t *testing.T) {
	in := EventInput{
		DateNY:       "2026-07-01",
		Symbol:       "AAPL",
		BaselineQty:  100,
		ModulatedQty: 60,
		Price:        150,
		Source:       "risk_control_resolver",
	}
	event, err := BuildEvent(in)
	require.NoError(t, err)

	baseline := event["baseline"].(map[string]interface{})
	modulated := event["modulated"].(map[string]interface{})
	delta := event["delta"].(map[string]interface{})

	require.Equal(t, 100, baseline["qty"])
	require.Equal(t, 15000.0, baseline["notional"])
	require.Equal(t, 60, modulated["qty"])
	require.Equal(t, 9000.0, modulated["notional"])
	require.Equal(t, -40, delta["qty"])
	require.Equal(t, -6000.0, delta["notional"])
	require.InDelta(t, -0.4, delta["pct_qty"].(float64), 1e-9)
	require.InDelta(t, -0.4, delta["pct_notional"].(float64), 1e-9)
}

func TestBuildEvent_PctDeltaNilWhenBaselineZero(t *testing.T) {
	in := EventInput{DateNY: "2026-07-01", Symbol: "AAPL", BaselineQty: 0, ModulatedQty: 0, Price: 150, Source: "s"}
	event, err := BuildEvent(in)
	require.NoError(t, err)
	delta := event["delta"].(map[string]interface{})
	require.Nil(t, delta["pct_qty"])
	require.Nil(t, delta["pct_notional"])
}

func TestBuildEvent_DrawdownGuardApplied(t *testing.T) {
	in := EventInput{
		DateNY: "2026-07-01", Symbol: "AAPL", BaselineQty: 10, ModulatedQty: 10, Price: 100, Source: "s",
		Drawdown: floatp(0.25), DrawdownThreshold: floatp(0.2),
	}
	event, err := BuildEvent(in)
	require.NoError(t, err)
	guard := event["drawdown_guard"].(map[string]interface{})
	require.Equal(t, true, guard["applied"])
}

func TestInferHardCaps_RiskMultiplierReduction(t *testing.T) {
	rc := &riskcontrol.RiskControls{RiskMultiplier: 0.5}
	equity := 100000.0
	caps := inferHardCaps(100, 50, &equity, rc, nil, nil)
	require.Equal(t, []string{"risk_multiplier"}, caps)
}

func TestInferHardCaps_NoReductionWhenMultiplierIsOne(t *testing.T) {
	rc := &riskcontrol.RiskControls{RiskMultiplier: 1.0}
	equity := 100000.0
	caps := inferHardCaps(100, 50, &equity, rc, nil, nil)
	require.Empty(t, caps)
}

func TestInferHardCaps_PerPositionCap(t *testing.T) {
	cap := 0.05
	rc := &riskcontrol.RiskControls{RiskMultiplier: 1.0, PerPositionCap: &cap}
	equity := 10000.0
	caps := inferHardCaps(100, 100, &equity, rc, nil, nil)
	require.Contains(t, caps, "per_position_cap")
}

// Spec §8 property 7 — sorted, deduped reason codes.
func TestOrderedReasonCodes_SortsAndDedupes(t *testing.T) {
	got := orderedReasonCodes([]string{"zzz", "aaa", "aaa", ""})
	require.Equal(t, []string{"aaa", "zzz"}, got)
}

func TestAppendEvent_RequiresDateNY(t *testing.T) {
	err := AppendEvent(t.TempDir(), map[string]interface{}{"symbol": "AAPL"})
	require.Error(t, err)
}

func TestAppendEvent_WritesToExpectedPath(t *testing.T) {
	root := t.TempDir()
	event := map[string]interface{}{"date_ny": "2026-07-01", "symbol": "AAPL"}
	require.NoError(t, AppendEvent(root, event))
}
