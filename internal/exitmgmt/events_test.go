package exitmgmt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildExitEvent_EventIDIsDeterministic(t *testing.T) {
	in := EventInput{EventType: "STOP_RESOLVED", Symbol: "AAPL", Source: "execution_v2", HasQty: true, Qty: 100, HasStopPrice: true, StopPrice: 98.5}
	a := BuildExitEvent(in)
	b := BuildExitEvent(in)
	require.Equal(t, a["event_id"], b["event_id"])
	require.NotEmpty(t, a["event_id"])
}

func TestBuildExitEvent_DerivesPositionIDFromEntryFacts(t *testing.T) {
	in := EventInput{
		EventType: "STOP_RESOLVED", Symbol: "AAPL", Source: "execution_v2",
		HasQty: true, Qty: 100, HasStopPrice: true, StopPrice: 98.5,
		EntryTsUTC: "2026-07-01T14:30:00Z", HasEntryPrice: true, EntryPrice: 100,
	}
	event := BuildExitEvent(in)
	require.NotNil(t, event["position_id"])
	require.NotEmpty(t, event["position_id"].(string))
}

func TestBuildExitEvent_NoPositionIDWithoutEntryTs(t *testing.T) {
	in := EventInput{EventType: "STOP_RESOLVED", Symbol: "AAPL", HasQty: true, Qty: 100}
	event := BuildExitEvent(in)
	require.Nil(t, event["position_id"])
}

func TestBuildPositionID_Deterministic(t *testing.T) {
	in := BuildPositionIDInput{Symbol: "AAPL", EntryTsUTC: "2026-07-01T14:30:00Z", Qty: 100, HasEntryPrice: true, EntryPrice: 100}
	require.Equal(t, BuildPositionID(in), BuildPositionID(in))
}

func TestBuildPositionID_ChangesWithSymbol(t *testing.T) {
	a := BuildPositionIDInput{Symbol: "AAPL", EntryTsUTC: "t", Qty: 1}
	b := a
	b.Symbol = "MSFT"
	require.NotEqual(t, BuildPositionID(a), BuildPositionID(b))
}

func TestAppendExitEvent_RequiresDateNY(t *testing.T) {
	err := AppendExitEvent(t.TempDir(), map[string]interface{}{})
	require.Error(t, err)
}

func TestAppendExitEvent_WritesLedgerFile(t *testing.T) {
	root := t.TempDir()
	event := BuildExitEvent(EventInput{EventType: "STOP_HELD", Symbol: "AAPL"})
	require.NoError(t, AppendExitEvent(root, event))
	dateNY, _ := event["date_ny"].(string)
	require.FileExists(t, ExitLedgerPath(root, dateNY))
}

func TestBuildExitEventFromLegacy_WrapsAndUsesContext(t *testing.T) {
	ctx := EventContext{Symbol: "AAPL", HasQty: true, Qty: 50}
	legacy := map[string]interface{}{"event": "STOP_SKIP_HELD", "symbol": "AAPL"}
	event := BuildExitEventFromLegacy(legacy, "AAPL", "execution_v2", ctx)
	require.Equal(t, "STOP_SKIP_HELD", event["event_type"])
	require.Equal(t, 50.0, event["qty"])
}
