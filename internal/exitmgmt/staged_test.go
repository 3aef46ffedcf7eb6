package exitmgmt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyStagedExit_OpenToR1TakenTrimsQtyAndRaisesStopToBreakeven(t *testing.T) {
	state := PositionState{Symbol: "AAPL", Qty: 100, QtyRemaining: 100, Stage: StageOpen}
	in := StagedExitInput{
		HasR1Price: true, R1Price: 110, R1Qty: 40,
		HasR2Price: true, R2Price: 120, R2Qty: 60,
		HasEntryPrice: true, EntryPrice: 100,
	}
	next, events := ApplyStagedExit(state, in, 110, "test")
	require.Equal(t, StageR1Taken, next.Stage)
	require.Equal(t, 60, next.QtyRemaining)
	require.True(t, next.HasStopPrice)
	require.Equal(t, 100.0, next.StopPrice)
	require.Len(t, events, 1)
	require.Equal(t, "EXIT_FILLED", events[0]["event_type"])
	require.Equal(t, "r1_taken", events[0]["stop_action"])
	require.Equal(t, "r1_target", events[0]["reason"])
	require.Equal(t, 40.0, events[0]["qty"])
}

func TestApplyStagedExit_DoesNotTriggerBelowR1Price(t *testing.T) {
	state := PositionState{Symbol: "AAPL", Qty: 100, QtyRemaining: 100, Stage: StageOpen}
	in := StagedExitInput{HasR1Price: true, R1Price: 110, R1Qty: 40}
	next, events := ApplyStagedExit(state, in, 109.99, "test")
	require.Equal(t, StageOpen, next.Stage)
	require.Equal(t, 100, next.QtyRemaining)
	require.Empty(t, events)
}

func TestApplyStagedExit_R1TakenToClosedTrimsRemainder(t *testing.T) {
	state := PositionState{Symbol: "AAPL", Qty: 100, QtyRemaining: 60, Stage: StageR1Taken, HasStopPrice: true, StopPrice: 100}
	in := StagedExitInput{HasR2Price: true, R2Price: 120, R2Qty: 60}
	next, events := ApplyStagedExit(state, in, 121, "test")
	require.Equal(t, StageClosed, next.Stage)
	require.Equal(t, 0, next.QtyRemaining)
	require.Len(t, events, 1)
	require.Equal(t, "r2_taken", events[0]["stop_action"])
	require.Equal(t, "r2_target", events[0]["reason"])
}

func TestApplyStagedExit_ClosedStageIsTerminal(t *testing.T) {
	state := PositionState{Symbol: "AAPL", Qty: 100, QtyRemaining: 0, Stage: StageClosed}
	in := StagedExitInput{HasR1Price: true, R1Price: 50, R1Qty: 10, HasR2Price: true, R2Price: 60, R2Qty: 10}
	next, events := ApplyStagedExit(state, in, 1000, "test")
	require.Equal(t, StageClosed, next.Stage)
	require.Empty(t, events)
}

func TestApplyStagedExit_R1QtyClampedToRemaining(t *testing.T) {
	state := PositionState{Symbol: "AAPL", Qty: 30, QtyRemaining: 30, Stage: StageOpen}
	in := StagedExitInput{HasR1Price: true, R1Price: 110, R1Qty: 100}
	next, events := ApplyStagedExit(state, in, 110, "test")
	require.Equal(t, 0, next.QtyRemaining)
	require.Equal(t, 30.0, events[0]["qty"])
}

func TestApplyStagedExit_DefaultsZeroStageToOpenAndZeroQtyRemainingToQty(t *testing.T) {
	state := PositionState{Symbol: "AAPL", Qty: 80}
	in := StagedExitInput{HasR1Price: true, R1Price: 10, R1Qty: 20}
	next, events := ApplyStagedExit(state, in, 10, "test")
	require.Equal(t, StageR1Taken, next.Stage)
	require.Equal(t, 60, next.QtyRemaining)
	require.Len(t, events, 1)
}

func TestJSONPositionStore_LoadMissingReturnsNotFound(t *testing.T) {
	store := NewJSONPositionStore(t.TempDir())
	_, ok, err := store.Load("AAPL")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestJSONPositionStore_SaveThenLoadRoundTrips(t *testing.T) {
	store := NewJSONPositionStore(t.TempDir())
	state := PositionState{
		Symbol: "aapl", Qty: 100, Stage: StageR1Taken, QtyRemaining: 60,
		HasStopPrice: true, StopPrice: 101.5, StopOrderID: "order-9",
	}
	require.NoError(t, store.Save(state))

	loaded, ok, err := store.Load("AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StageR1Taken, loaded.Stage)
	require.Equal(t, 60, loaded.QtyRemaining)
	require.Equal(t, 101.5, loaded.StopPrice)
	require.Equal(t, "order-9", loaded.StopOrderID)
}

func TestJSONPositionStore_SaveIsCaseInsensitiveBySymbol(t *testing.T) {
	store := NewJSONPositionStore(t.TempDir())
	require.NoError(t, store.Save(PositionState{Symbol: "MSFT", Stage: StageClosed}))
	loaded, ok, err := store.Load("msft")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StageClosed, loaded.Stage)
}
