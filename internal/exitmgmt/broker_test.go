package exitmgmt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	orders      []Order
	cancelled   []string
	submitted   []Order
	submitErr   error
	nextOrderID int
}

func (f *fakeBroker) GetOrders() ([]Order, error) { return f.orders, nil }

func (f *fakeBroker) GetAllPositions() ([]Position, error) { return nil, nil }

func (f *fakeBroker) CancelOrderByID(id string) error {
	f.cancelled = append(f.cancelled, id)
	idx := -1
	for i, o := range f.orders {
		if o.ID == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		f.orders = append(f.orders[:idx], f.orders[idx+1:]...)
	}
	return nil
}

func (f *fakeBroker) SubmitStopOrder(symbol string, qty int, stopPrice float64) (Order, error) {
	if f.submitErr != nil {
		return Order{}, f.submitErr
	}
	f.nextOrderID++
	order := Order{ID: fmt.Sprintf("order-%d", f.nextOrderID), Symbol: symbol, Side: "sell", Status: "new", OrderType: "stop", Qty: qty, HasStopPrice: true, StopPrice: stopPrice}
	f.orders = append(f.orders, order)
	f.submitted = append(f.submitted, order)
	return order, nil
}

func TestReconcileStopOrder_ReturnsExistingMatchWithoutSubmitting(t *testing.T) {
	broker := &fakeBroker{orders: []Order{
		{ID: "existing-1", Symbol: "AAPL", Side: "sell", Status: "open", OrderType: "stop", Qty: 100, HasStopPrice: true, StopPrice: 98.0},
	}}
	state := PositionState{Symbol: "AAPL", Qty: 100}
	newState, err := ReconcileStopOrder(broker, state, 100, 98.0, false, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "existing-1", newState.StopOrderID)
	require.Empty(t, broker.submitted)
}

func TestReconcileStopOrder_CancelsMismatchedAndSubmitsNew(t *testing.T) {
	broker := &fakeBroker{orders: []Order{
		{ID: "stale-1", Symbol: "AAPL", Side: "sell", Status: "open", OrderType: "stop", Qty: 100, HasStopPrice: true, StopPrice: 90.0},
	}}
	state := PositionState{Symbol: "AAPL", Qty: 100}
	newState, err := ReconcileStopOrder(broker, state, 100, 98.0, false, nil, nil)
	require.NoError(t, err)
	require.Contains(t, broker.cancelled, "stale-1")
	require.Len(t, broker.submitted, 1)
	require.Equal(t, broker.submitted[0].ID, newState.StopOrderID)
}

func TestReconcileStopOrder_SkipsWhenAnotherSellOrderHoldsShares(t *testing.T) {
	broker := &fakeBroker{orders: []Order{
		{ID: "limit-1", Symbol: "AAPL", Side: "sell", Status: "open", OrderType: "limit", Qty: 100},
	}}
	state := PositionState{Symbol: "AAPL", Qty: 100}
	var events []map[string]interface{}
	_, err := ReconcileStopOrder(broker, state, 100, 98.0, false, nil, func(e map[string]interface{}) { events = append(events, e) })
	require.NoError(t, err)
	require.Empty(t, broker.submitted)
	require.Len(t, events, 1)
	require.Equal(t, "STOP_SKIP_HELD", events[0]["event"])
}

func TestReconcileStopOrder_RecordsBlockedSubmitOnError(t *testing.T) {
	broker := &fakeBroker{submitErr: fmt.Errorf("insufficient qty available")}
	state := PositionState{Symbol: "AAPL", Qty: 100}
	var events []map[string]interface{}
	newState, err := ReconcileStopOrder(broker, state, 100, 98.0, false, nil, func(e map[string]interface{}) { events = append(events, e) })
	require.NoError(t, err)
	require.Empty(t, newState.StopOrderID)
	require.Len(t, events, 1)
	require.Equal(t, "STOP_SUBMIT_BLOCKED", events[0]["event"])
}

func TestReconcileStopOrder_PropagatesNonInsufficientQtyError(t *testing.T) {
	broker := &fakeBroker{submitErr: fmt.Errorf("broker unavailable: 503")}
	state := PositionState{Symbol: "AAPL", Qty: 100}
	var events []map[string]interface{}
	_, err := ReconcileStopOrder(broker, state, 100, 98.0, false, nil, func(e map[string]interface{}) { events = append(events, e) })
	require.Error(t, err)
	require.Contains(t, err.Error(), "broker unavailable")
	require.Empty(t, events)
}

func TestReconcileStopOrder_PropagatesTypedNonInsufficientQtyError(t *testing.T) {
	broker := &fakeBroker{submitErr: NewInsufficientQtyError("40310001", "duplicate client order id")}
	state := PositionState{Symbol: "AAPL", Qty: 100}
	_, err := ReconcileStopOrder(broker, state, 100, 98.0, false, nil, nil)
	require.Error(t, err)
}

func TestReadExistingStop_NoMatchingOrdersReturnsFalse(t *testing.T) {
	broker := &fakeBroker{}
	_, ok := ReadExistingStop(broker, "AAPL", 100, true, 98.0, true, false)
	require.False(t, ok)
}

func TestReadExistingStop_ReturnsSingleMatch(t *testing.T) {
	broker := &fakeBroker{orders: []Order{
		{ID: "o1", Symbol: "AAPL", Side: "sell", Status: "open", OrderType: "stop", Qty: 100, HasStopPrice: true, StopPrice: 97.5},
	}}
	stop, ok := ReadExistingStop(broker, "AAPL", 100, true, 0, false, false)
	require.True(t, ok)
	require.Equal(t, 97.5, stop)
}
