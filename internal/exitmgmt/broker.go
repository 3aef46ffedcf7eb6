package exitmgmt

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Order is the broker-order shape reconcileStopOrder reasons about —
// execution_v2.exits's duck-typed _order_* accessors, made concrete.
type Order struct {
	ID           string
	Symbol       string
	Side         string
	Status       string
	OrderType    string
	Qty          int
	HasStopPrice bool
	StopPrice    float64
	SubmittedAt  time.Time
}

// Position is one open broker position.
type Position struct {
	Symbol        string
	Qty           int
	HasAvgEntry   bool
	AvgEntryPrice float64
	CurrentPrice  float64

	// HasEntryTsUTC and EntryTsUTC feed the too-early guardrail; left unset
	// by callers that don't track entry timing, which disables that half
	// of the check for the position.
	HasEntryTsUTC bool
	EntryTsUTC    time.Time

	// HasR1Price/HasR2Price feed the R1/R2 staged-exit tiers (ApplyStagedExit);
	// left unset by callers with no profit-target strategy for the position,
	// which disables that tier entirely.
	HasR1Price bool
	R1Price    float64
	R1Qty      int
	HasR2Price bool
	R2Price    float64
	R2Qty      int
}

// TradingClient is the minimal broker surface the reconciliation protocol
// needs. A live implementation wraps the actual broker SDK; tests supply a
// fake.
type TradingClient interface {
	GetOrders() ([]Order, error)
	GetAllPositions() ([]Position, error)
	CancelOrderByID(id string) error
	// SubmitStopOrder returns an *InsufficientQtyError (or any error whose
	// message contains "insufficient qty available") when the broker
	// rejects the order for lack of available shares to sell. Any other
	// error is treated as fatal and propagated by ReconcileStopOrder.
	SubmitStopOrder(symbol string, qty int, stopPrice float64) (Order, error)
}

// InsufficientQtyError signals a broker rejection caused specifically by
// insufficient available quantity to sell — the only SubmitStopOrder
// failure reconciliation treats as non-fatal (STOP_SUBMIT_BLOCKED) rather
// than propagating — execution_v2.exits._api_error_is_insufficient_qty.
type InsufficientQtyError struct {
	Code    string
	Message string
}

func (e *InsufficientQtyError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "insufficient qty available"
}

// NewInsufficientQtyError builds an *InsufficientQtyError; code may be empty
// when the broker adapter has no error-code field to carry.
func NewInsufficientQtyError(code, message string) error {
	return &InsufficientQtyError{Code: code, Message: message}
}

// isInsufficientQtyError classifies err the same way the original does:
// a broker-specific error code of 40310000, or a fallback substring match
// on the error text, since not every broker adapter carries a typed error.
func isInsufficientQtyError(err error) bool {
	var iq *InsufficientQtyError
	if errors.As(err, &iq) {
		if iq.Code == "40310000" {
			return true
		}
		return strings.Contains(strings.ToLower(iq.Error()), "insufficient qty available")
	}
	return strings.Contains(strings.ToLower(err.Error()), "insufficient qty available")
}

func isOpenStatus(status string) bool {
	switch strings.ToLower(status) {
	case "open", "accepted", "new":
		return true
	}
	return false
}

func isStopType(orderType string) bool {
	switch strings.ToLower(orderType) {
	case "stop", "stop_limit":
		return true
	}
	return false
}

func matchingStopOrder(o Order, desiredSymbol string, desiredQty int, desiredStop float64) bool {
	if strings.ToUpper(o.Symbol) != strings.ToUpper(desiredSymbol) {
		return false
	}
	if strings.ToLower(o.Side) != "sell" {
		return false
	}
	if !isOpenStatus(o.Status) {
		return false
	}
	if !isStopType(o.OrderType) {
		return false
	}
	if o.Qty != desiredQty {
		return false
	}
	if !o.HasStopPrice {
		return false
	}
	return round2(o.StopPrice) == round2(desiredStop)
}

// selectPreferredStopOrder picks, among equally matching orders, the one
// closest to (desiredQty, most recent, desiredStop) in that priority order.
// Only exercised when EXIT_STOP_SELECTION_V2=1.
func selectPreferredStopOrder(orders []Order, desiredQty int, hasDesiredQty bool, desiredStop float64, hasDesiredStop bool) (Order, bool) {
	if len(orders) == 0 {
		return Order{}, false
	}
	type scored struct {
		order   Order
		qtyDiff float64
		tsRank  float64
		stopDiff float64
	}
	scoredOrders := make([]scored, 0, len(orders))
	for _, o := range orders {
		qtyDiff := posInf
		if hasDesiredQty {
			qtyDiff = absFloat(float64(o.Qty - desiredQty))
		}
		tsRank := posInf
		if !o.SubmittedAt.IsZero() {
			tsRank = -float64(o.SubmittedAt.Unix())
		}
		stopDiff := posInf
		if hasDesiredStop && o.HasStopPrice {
			stopDiff = absFloat(o.StopPrice - desiredStop)
		}
		scoredOrders = append(scoredOrders, scored{o, qtyDiff, tsRank, stopDiff})
	}
	sort.SliceStable(scoredOrders, func(i, j int) bool {
		if scoredOrders[i].qtyDiff != scoredOrders[j].qtyDiff {
			return scoredOrders[i].qtyDiff < scoredOrders[j].qtyDiff
		}
		if scoredOrders[i].tsRank != scoredOrders[j].tsRank {
			return scoredOrders[i].tsRank < scoredOrders[j].tsRank
		}
		return scoredOrders[i].stopDiff < scoredOrders[j].stopDiff
	})
	return scoredOrders[0].order, true
}

const posInf = 1e18

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// PositionState tracks what we believe is currently true for one symbol's
// stop protection — execution_v2.exits.ExitPositionState.
type PositionState struct {
	Symbol            string
	Qty               int
	HasStopPrice      bool
	StopPrice         float64
	StopOrderID       string
	StopBasis         string
	HasLastStopUpdate bool
	LastStopUpdateTs  time.Time

	// Stage and QtyRemaining carry R1/R2 staged-exit progress across daily
	// cycles (ApplyStagedExit); a zero-value Stage is treated as StageOpen
	// with QtyRemaining set to Qty, so a position with no persisted history
	// behaves exactly as it did before these fields existed. Once a Stage is
	// recorded, a zero QtyRemaining is kept as zero.
	Stage        ExitStage
	QtyRemaining int
}

// PositionStore persists PositionState across daily cycles — the only
// state manage_positions needs that isn't re-derived fresh from the broker
// and bar data each run. Every other input (positions, orders, bars) is
// re-fetched from its source of truth on every cycle; R1/R2 stage and
// qty_remaining have no other home to survive a process restart in.
type PositionStore interface {
	Load(symbol string) (PositionState, bool, error)
	Save(state PositionState) error
}

// ReconcileStopOrder is the idempotent broker-order reconciliation protocol:
// find an already-matching stop, else cancel mismatched stops and recheck,
// else skip if an existing sell order already holds the shares, else submit
// a fresh stop order — execution_v2.exits.reconcile_stop_order.
func ReconcileStopOrder(client TradingClient, state PositionState, desiredQty int, desiredStop float64, selectionV2 bool, log func(string), appendEvent func(map[string]interface{})) (PositionState, error) {
	if log == nil {
		log = func(string) {}
	}
	if appendEvent == nil {
		appendEvent = func(map[string]interface{}) {}
	}

	sellOrders, err := openSellOrders(client, state.Symbol)
	if err != nil {
		return state, err
	}

	var matching []Order
	for _, o := range sellOrders {
		if matchingStopOrder(o, state.Symbol, desiredQty, desiredStop) {
			matching = append(matching, o)
		}
	}
	if len(matching) > 0 {
		preferred := matching[0]
		if selectionV2 && len(matching) > 1 {
			if p, ok := selectPreferredStopOrder(matching, desiredQty, true, desiredStop, true); ok {
				preferred = p
			}
		}
		if preferred.ID != "" {
			state.StopOrderID = preferred.ID
		}
		return state, nil
	}

	var mismatched []Order
	for _, o := range sellOrders {
		if isStopType(o.OrderType) && !matchingStopOrder(o, state.Symbol, desiredQty, desiredStop) {
			mismatched = append(mismatched, o)
		}
	}
	for _, o := range mismatched {
		if o.ID == "" {
			continue
		}
		_ = client.CancelOrderByID(o.ID)
	}

	if len(mismatched) > 0 {
		sellOrders, err = openSellOrders(client, state.Symbol)
		if err != nil {
			return state, err
		}
	}

	for _, o := range sellOrders {
		if matchingStopOrder(o, state.Symbol, desiredQty, desiredStop) {
			if o.ID != "" {
				state.StopOrderID = o.ID
			}
			return state, nil
		}
	}

	var holding []Order
	for _, o := range sellOrders {
		if o.Qty >= desiredQty {
			holding = append(holding, o)
		}
	}
	if len(holding) > 0 {
		related := relatedOrderSummaries(holding)
		log("STOP_SKIP_HELD " + state.Symbol + ": existing sell order holds qty; not submitting new stop")
		appendEvent(map[string]interface{}{
			"event":          "STOP_SKIP_HELD",
			"symbol":         state.Symbol,
			"related_orders": related,
		})
		var stopHolding []Order
		for _, o := range holding {
			if isStopType(o.OrderType) {
				stopHolding = append(stopHolding, o)
			}
		}
		if len(stopHolding) > 0 {
			preferred := stopHolding[0]
			if selectionV2 && len(stopHolding) > 1 {
				if p, ok := selectPreferredStopOrder(stopHolding, desiredQty, true, desiredStop, true); ok {
					preferred = p
				}
			}
			if preferred.ID != "" {
				state.StopOrderID = preferred.ID
			}
		}
		return state, nil
	}

	order, err := client.SubmitStopOrder(state.Symbol, desiredQty, round2(desiredStop))
	if err != nil {
		if !isInsufficientQtyError(err) {
			return state, err
		}
		related := relatedOrderSummaries(sellOrders)
		appendEvent(map[string]interface{}{
			"event":          "STOP_SUBMIT_BLOCKED",
			"symbol":         state.Symbol,
			"reason":         err.Error(),
			"related_orders": related,
		})
		log("STOP_SUBMIT_BLOCKED " + state.Symbol + ": " + err.Error())
		return state, nil
	}

	if order.ID != "" {
		state.StopOrderID = order.ID
	}
	state.StopPrice = desiredStop
	state.HasStopPrice = true
	state.LastStopUpdateTs = time.Now().UTC()
	state.HasLastStopUpdate = true
	return state, nil
}

func openSellOrders(client TradingClient, symbol string) ([]Order, error) {
	orders, err := client.GetOrders()
	if err != nil {
		return nil, err
	}
	var out []Order
	for _, o := range orders {
		if strings.ToLower(o.Side) == "sell" && isOpenStatus(o.Status) && strings.ToUpper(o.Symbol) == strings.ToUpper(symbol) {
			out = append(out, o)
		}
	}
	return out, nil
}

func relatedOrderSummaries(orders []Order) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(orders))
	for _, o := range orders {
		out = append(out, map[string]interface{}{
			"id":   o.ID,
			"side": strings.ToLower(o.Side),
			"type": strings.ToLower(o.OrderType),
			"qty":  o.Qty,
		})
	}
	return out
}

// ReadExistingStop returns the stop price of the single matching open sell
// stop order for symbol, if any — execution_v2.exits._read_existing_stop.
func ReadExistingStop(client TradingClient, symbol string, desiredQty int, hasDesiredQty bool, desiredStop float64, hasDesiredStop bool, selectionV2 bool) (float64, bool) {
	orders, err := client.GetOrders()
	if err != nil {
		return 0, false
	}
	var stopOrders []Order
	for _, o := range orders {
		if strings.ToLower(o.Side) != "sell" {
			continue
		}
		if !isOpenStatus(o.Status) {
			continue
		}
		if !isStopType(o.OrderType) {
			continue
		}
		if strings.ToUpper(o.Symbol) != strings.ToUpper(symbol) {
			continue
		}
		stopOrders = append(stopOrders, o)
	}
	if len(stopOrders) == 0 {
		return 0, false
	}
	if selectionV2 && len(stopOrders) > 1 {
		preferred, ok := selectPreferredStopOrder(stopOrders, desiredQty, hasDesiredQty, desiredStop, hasDesiredStop)
		if !ok || !preferred.HasStopPrice {
			return 0, false
		}
		return preferred.StopPrice, true
	}
	if !stopOrders[0].HasStopPrice {
		return 0, false
	}
	return stopOrders[0].StopPrice, true
}
